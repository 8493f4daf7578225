package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidSignature is returned when the signature does not match
	// the signed headers, or the Signature header cannot be parsed.
	ErrInvalidSignature = errors.New("httpsig: invalid signature")

	// ErrDigestMismatch is returned when the Digest header does not match
	// the request body, or uses an unsupported algorithm.
	ErrDigestMismatch = errors.New("httpsig: digest mismatch")

	// ErrStaleSignature is returned when the signed Date header is older
	// than MaxSignatureAge.
	ErrStaleSignature = errors.New("httpsig: signature too old")
)

// Signature is a parsed Signature header.
type Signature struct {
	KeyID     string
	Algorithm string
	// Headers is the list of header names the signer claims to have
	// signed, in the order they were signed.
	Headers   []string
	Signature []byte
}

// ParseSignature extracts and parses the Signature header of a request.
func ParseSignature(req *http.Request) (*Signature, error) {
	sigHeader := req.Header.Get("Signature")
	if sigHeader == "" {
		return nil, fmt.Errorf("%w: Signature header is missing", ErrInvalidSignature)
	}

	var sig Signature
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, found := strings.Cut(part, "=")
		if !found {
			return nil, fmt.Errorf("%w: malformed signature part: %s", ErrInvalidSignature, part)
		}
		v = strings.Trim(v, "\"")
		switch k {
		case "keyId":
			sig.KeyID = v
		case "algorithm":
			sig.Algorithm = v
		case "headers":
			sig.Headers = strings.Split(v, " ")
		case "signature":
			raw, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, err)
			}
			sig.Signature = raw
		default:
			// ignore unknown parts, eg. created/expires from newer drafts
		}
	}
	if sig.KeyID == "" || len(sig.Signature) == 0 || len(sig.Headers) == 0 {
		return nil, fmt.Errorf("%w: incomplete Signature header", ErrInvalidSignature)
	}
	return &sig, nil
}

// Verify checks the signature against the live request using the given
// public key. The canonical string is rebuilt from the subset and order of
// headers the signer declared; (request-target) is always reconstructed
// from the request itself, never trusted from the payload. If the declared
// headers include digest, body is checked against the Digest header first.
func (s *Signature) Verify(pubKey crypto.PublicKey, req *http.Request, body []byte) error {
	if age, err := dateAge(req.Header.Get("Date")); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	} else if age > MaxSignatureAge {
		return fmt.Errorf("%w: date header %q", ErrStaleSignature, req.Header.Get("Date"))
	}

	var sb bytes.Buffer
	for _, header := range s.Headers {
		if strings.EqualFold(header, "digest") {
			if err := VerifyDigest(req, body); err != nil {
				return err
			}
		}
		line, err := canonicalLine(req, header)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	hash := sha256.New()
	hash.Write(bytes.TrimRight(sb.Bytes(), "\n")) // remove trailing newline
	digest := hash.Sum(nil)

	switch s.Algorithm {
	case "rsa-sha256", "hs2019", "":
		rsaKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: expected *rsa.PublicKey", ErrInvalidSignature)
		}
		if err := rsa.VerifyPKCS1v15(rsaKey, crypto.SHA256, digest, s.Signature); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown algorithm: %s", ErrInvalidSignature, s.Algorithm)
	}
}

// Verify parses the request's Signature header, resolves the signer's
// public key with keyFn, and verifies the signature.
func Verify(req *http.Request, body []byte, keyFn func(keyID string) (crypto.PublicKey, error)) error {
	sig, err := ParseSignature(req)
	if err != nil {
		return err
	}
	pubKey, err := keyFn(sig.KeyID)
	if err != nil {
		return err
	}
	return sig.Verify(pubKey, req, body)
}

// dateAge returns how long ago the given HTTP date was, measured against
// wall-clock UTC.
func dateAge(date string) (time.Duration, error) {
	if date == "" {
		return 0, errors.New("missing Date header")
	}
	parsed, err := http.ParseTime(date)
	if err != nil {
		return 0, err
	}
	return time.Since(parsed), nil
}
