package httpsig

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Digest returns the Digest header value for the given body.
func Digest(body []byte) string {
	hash := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(hash[:])
}

// VerifyDigest checks the request's declared Digest header against the
// given body. It returns ErrDigestMismatch if the digest algorithm is
// unsupported or the computed digest does not match the declared one.
func VerifyDigest(req *http.Request, body []byte) error {
	declared := req.Header.Get("Digest")
	if declared == "" {
		return fmt.Errorf("%w: missing Digest header", ErrDigestMismatch)
	}
	algorithm, value, found := strings.Cut(declared, "=")
	if !found {
		return fmt.Errorf("%w: malformed Digest header", ErrDigestMismatch)
	}

	var computed []byte
	switch algorithm {
	case "SHA-256":
		hash := sha256.Sum256(body)
		computed = hash[:]
	case "SHA-512":
		hash := sha512.Sum512(body)
		computed = hash[:]
	default:
		return fmt.Errorf("%w: unsupported digest algorithm: %s", ErrDigestMismatch, algorithm)
	}

	if value != base64.StdEncoding.EncodeToString(computed) {
		return fmt.Errorf("%w: digest does not match body", ErrDigestMismatch)
	}
	return nil
}
