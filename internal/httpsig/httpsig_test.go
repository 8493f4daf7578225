package httpsig

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/stretchr/testify/require"
)

const keyID = "https://example.com/user/foo#main-key"

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSignGETRequest(t *testing.T) {
	require := require.New(t)
	req, err := http.NewRequest("GET", "https://example.com/user/foo", nil)
	require.NoError(err)
	req.Header.Set("Accept", "application/ld+json")

	key := newKey(t)
	require.NoError(Sign(req, keyID, key, nil))

	// cross-check against the go-fed implementation
	verifier, err := httpsig.NewVerifier(req)
	require.NoError(err)
	require.Equal(keyID, verifier.KeyId())
	err = verifier.Verify(&key.PublicKey, httpsig.RSA_SHA256)
	require.NoError(err, "req.Signature: %s", req.Header.Get("Signature"))
}

func TestSignAndVerifyPOST(t *testing.T) {
	require := require.New(t)
	body := []byte(`{"type":"Create"}`)
	req, err := http.NewRequest("POST", "https://example.com/inbox", strings.NewReader(string(body)))
	require.NoError(err)

	key := newKey(t)
	require.NoError(Sign(req, keyID, key, body))
	require.NotEmpty(req.Header.Get("Digest"))

	sig, err := ParseSignature(req)
	require.NoError(err)
	require.Equal(keyID, sig.KeyID)
	require.Equal([]string{"(request-target)", "host", "date", "digest"}, sig.Headers)
	require.NoError(sig.Verify(&key.PublicKey, req, body))
}

func TestVerifyRejectsAlteredHeaders(t *testing.T) {
	body := []byte(`{"type":"Create"}`)
	key := newKey(t)

	tests := []struct {
		name   string
		mutate func(*http.Request)
	}{
		{"altered date", func(r *http.Request) {
			r.Header.Set("Date", time.Now().UTC().Add(-time.Minute).Format(http.TimeFormat))
		}},
		{"altered path", func(r *http.Request) {
			r.URL.Path = "/user/other/inbox"
		}},
		{"altered host", func(r *http.Request) {
			r.Host = "evil.example.com"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
			require.NoError(err)
			require.NoError(Sign(req, keyID, key, body))

			tt.mutate(req)
			sig, err := ParseSignature(req)
			require.NoError(err)
			err = sig.Verify(&key.PublicKey, req, body)
			require.ErrorIs(err, ErrInvalidSignature)
		})
	}
}

func TestVerifyRejectsAlteredBody(t *testing.T) {
	require := require.New(t)
	key := newKey(t)
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	require.NoError(err)
	require.NoError(Sign(req, keyID, key, []byte("original")))

	sig, err := ParseSignature(req)
	require.NoError(err)
	err = sig.Verify(&key.PublicKey, req, []byte("tampered"))
	require.ErrorIs(err, ErrDigestMismatch)
}

func TestVerifyHonoursSignersHeaderList(t *testing.T) {
	// a signer that covers only (request-target), host and date must
	// still verify; we rebuild the canonical string from its own list.
	require := require.New(t)
	key := newKey(t)
	req, err := http.NewRequest("GET", "https://example.com/user/foo", nil)
	require.NoError(err)
	req.Header.Set("Accept", "application/activity+json")
	require.NoError(Sign(req, keyID, key, nil))

	sig, err := ParseSignature(req)
	require.NoError(err)
	require.Equal([]string{"(request-target)", "host", "date", "accept"}, sig.Headers)
	require.NoError(sig.Verify(&key.PublicKey, req, nil))
}

func TestStaleness(t *testing.T) {
	body := []byte("{}")
	key := newKey(t)

	signedAt := func(t *testing.T, age time.Duration) (*Signature, *http.Request) {
		t.Helper()
		require := require.New(t)
		req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
		require.NoError(err)
		req.Header.Set("Date", time.Now().UTC().Add(-age).Format(http.TimeFormat))
		require.NoError(Sign(req, keyID, key, body))
		sig, err := ParseSignature(req)
		require.NoError(err)
		return sig, req
	}

	t.Run("299 seconds old passes", func(t *testing.T) {
		sig, req := signedAt(t, 299*time.Second)
		require.NoError(t, sig.Verify(&key.PublicKey, req, body))
	})
	t.Run("301 seconds old fails", func(t *testing.T) {
		sig, req := signedAt(t, 301*time.Second)
		require.ErrorIs(t, sig.Verify(&key.PublicKey, req, body), ErrStaleSignature)
	})
}

func TestVerifyDigestAlgorithms(t *testing.T) {
	require := require.New(t)
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	require.NoError(err)

	req.Header.Set("Digest", "MD5=blah")
	require.ErrorIs(VerifyDigest(req, []byte("x")), ErrDigestMismatch)

	req.Header.Set("Digest", Digest([]byte("hello")))
	require.NoError(VerifyDigest(req, []byte("hello")))
	require.ErrorIs(VerifyDigest(req, []byte("goodbye")), ErrDigestMismatch)
}

func TestParseSignatureErrors(t *testing.T) {
	require := require.New(t)
	req, err := http.NewRequest("POST", "https://example.com/inbox", nil)
	require.NoError(err)

	_, err = ParseSignature(req)
	require.ErrorIs(err, ErrInvalidSignature)

	req.Header.Set("Signature", `keyId="x"`)
	_, err = ParseSignature(req)
	require.ErrorIs(err, ErrInvalidSignature)
}
