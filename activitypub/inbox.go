package activitypub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/shelfpub/shelfpub/internal/httpx"
	"github.com/shelfpub/shelfpub/models"
)

// maxPayloadBytes bounds the size of an inbound activity body.
const maxPayloadBytes = 1 << 20

// keyFetchTimeout bounds resolving an unknown signer's actor document
// during verification.
var keyFetchTimeout = 10 * time.Second

// SharedInbox accepts federation traffic addressed to the whole
// instance.
func (s *Service) SharedInbox(w http.ResponseWriter, r *http.Request) error {
	return s.inbox(w, r)
}

// UserInbox accepts federation traffic addressed to one local user,
// 404ing for addressees that do not exist.
func (s *Service) UserInbox(w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	if _, err := models.NewUsers(s.db).FindLocal(name); err != nil {
		return httpx.Error(http.StatusNotFound, errors.New("no such user"))
	}
	return s.inbox(w, r)
}

// inbox runs the gateway state machine: read, parse, recognize,
// verify, enqueue. Each step that fails exits with its own status
// code and a terse body; processing happens later on the worker.
func (s *Service) inbox(w http.ResponseWriter, r *http.Request) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, errors.New("unreadable body"))
	}
	var raw map[string]any
	if err := json.UnmarshalFull(bytes.NewReader(body), &raw); err != nil {
		return httpx.Error(http.StatusBadRequest, errors.New("malformed json"))
	}
	tag, _ := raw["type"].(string)
	if tag == "" || !KnownKind(tag) {
		return httpx.Error(http.StatusBadRequest, errors.New("unrecognized type"))
	}
	kind := Kind(tag)
	if kind.IsActivity() {
		if _, ok := raw["object"]; !ok {
			return httpx.Error(http.StatusBadRequest, errors.New("missing object"))
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), keyFetchTimeout)
	defer cancel()
	if _, err := s.VerifySignature(ctx, r, body); err != nil {
		// a Delete whose signer is gone is unverifiable by nature;
		// acknowledge it without processing
		if kind == Delete {
			w.WriteHeader(http.StatusOK)
			return nil
		}
		return httpx.Error(http.StatusUnauthorized, errors.New("unauthorized"))
	}
	queued := &models.InboundActivity{
		Payload:    body,
		RemoteAddr: r.RemoteAddr,
	}
	if err := s.db.Create(queued).Error; err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	return nil
}
