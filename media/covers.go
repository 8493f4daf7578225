// Package media serves book covers and avatars, scaling stored
// images down on the way out.
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nfnt/resize"
	"github.com/shelfpub/shelfpub/internal/httpx"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

// maxCoverWidth caps the width a cover is ever served at.
const maxCoverWidth = 1200

// Env carries the handlers' dependencies.
type Env struct {
	DB *gorm.DB
}

// ShowCover serves an edition's stored cover, scaled to the requested
// width. Editions without stored bytes redirect to the upstream cover
// URL.
func (e *Env) ShowCover(w http.ResponseWriter, r *http.Request) error {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	var edition models.Edition
	if err := e.DB.Take(&edition, id).Error; err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	if len(edition.Cover) == 0 {
		if edition.CoverURL == "" {
			return httpx.Error(http.StatusNotFound, fmt.Errorf("edition %d has no cover", id))
		}
		return httpx.Redirect(w, edition.CoverURL)
	}
	width := maxCoverWidth
	if q := r.URL.Query().Get("width"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < maxCoverWidth {
			width = n
		}
	}
	scaled, err := Scale(edition.Cover, uint(width))
	if err != nil {
		return httpx.Error(http.StatusUnprocessableEntity, err)
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(scaled)
	return err
}

// Scale decodes an image and re-encodes it as JPEG no wider than
// maxWidth, preserving aspect ratio. Images already narrow enough are
// re-encoded without resampling.
func Scale(data []byte, maxWidth uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if uint(img.Bounds().Dx()) > maxWidth {
		img = resize.Resize(maxWidth, 0, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
