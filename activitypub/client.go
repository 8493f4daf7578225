package activitypub

import (
	"bytes"
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"

	"github.com/carlmjohnson/requests"
	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/internal/httpsig"
	"github.com/shelfpub/shelfpub/models"
)

const contentType = `application/activity+json; charset=utf-8`

// maxFetchBytes bounds a binary fetch; a cover or avatar larger than
// this is rejected rather than buffered.
const maxFetchBytes = 10 << 20

// Client fetches and posts federation resources, signing every request
// with a local actor's key.
type Client struct {
	keyID      string
	privateKey *rsa.PrivateKey
	userAgent  string
}

// NewClient returns a client signing as the given local user.
func NewClient(signAs *models.User, userAgent string) (*Client, error) {
	if signAs.KeyPair == nil || len(signAs.KeyPair.PrivateKey) == 0 {
		return nil, serializerErrorf("user %s has no private key to sign with", signAs.Acct())
	}
	_, privateKey, err := crypto.ParseRSAPrivateKey(signAs.KeyPair.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &Client{
		keyID:      signAs.PublicKeyID(),
		privateKey: privateKey,
		userAgent:  userAgent,
	}, nil
}

// Fetch fetches the resource at the given URL and decodes it into obj.
// Failures come back as ConnectorError.
func (c *Client) Fetch(ctx context.Context, uri string, obj any) error {
	err := requests.URL(uri).
		Accept(`application/ld+json; profile="https://www.w3.org/ns/activitystreams"`).
		Header("User-Agent", c.userAgent).
		Transport(signer{keyID: c.keyID, privateKey: c.privateKey}).
		CheckContentType("application/ld+json", "application/activity+json", "application/json").
		CheckStatus(http.StatusOK).
		ToJSON(obj).
		Fetch(ctx)
	if err != nil {
		return &ConnectorError{URL: uri, Err: err}
	}
	return nil
}

// FetchBytes fetches a binary resource, for cover and avatar images
// referenced by url objects. The body is read through a cap so a
// hostile server cannot balloon the buffer.
func (c *Client) FetchBytes(ctx context.Context, uri string) ([]byte, error) {
	var buf bytes.Buffer
	err := requests.URL(uri).
		Header("User-Agent", c.userAgent).
		CheckStatus(http.StatusOK).
		ToWriter(&cappedWriter{buf: &buf, remaining: maxFetchBytes}).
		Fetch(ctx)
	if err != nil {
		return nil, &ConnectorError{URL: uri, Err: err}
	}
	return buf.Bytes(), nil
}

// cappedWriter refuses writes past its byte budget.
type cappedWriter struct {
	buf       *bytes.Buffer
	remaining int64
}

func (w *cappedWriter) Write(p []byte) (int, error) {
	if int64(len(p)) > w.remaining {
		return 0, fmt.Errorf("response body exceeds %d bytes", maxFetchBytes)
	}
	w.remaining -= int64(len(p))
	return w.buf.Write(p)
}

// Post delivers a serialized payload to the given inbox. The request
// carries Date, Digest, Content-Type and Signature headers computed
// over the exact bytes sent.
func (c *Client) Post(ctx context.Context, inbox string, body []byte) error {
	err := requests.URL(inbox).
		Header("Content-Type", contentType).
		Header("User-Agent", c.userAgent).
		BodyBytes(body).
		Transport(signer{keyID: c.keyID, privateKey: c.privateKey, body: body}).
		CheckStatus(http.StatusOK, http.StatusCreated, http.StatusAccepted).
		Fetch(ctx)
	if err != nil {
		return &ConnectorError{URL: inbox, Err: err}
	}
	return nil
}

// signer is a one-shot transport that signs the outgoing request. The
// body is carried separately because the digest must be computed
// before the request is sent.
type signer struct {
	keyID      string
	privateKey *rsa.PrivateKey
	body       []byte
}

func (s signer) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := httpsig.Sign(req, s.keyID, s.privateKey, s.body); err != nil {
		return nil, err
	}
	return http.DefaultTransport.RoundTrip(req)
}
