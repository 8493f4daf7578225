// Package httpsig implements the HTTP Signature scheme as defined in draft-cavage-http-signatures-10.
package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	// RequestTarget is the pseudo-header used to sign the request target.
	RequestTarget = "(request-target)"

	// MaxSignatureAge is how far in the past a signed Date header may be
	// before the signature is rejected as a replay.
	MaxSignatureAge = 300 * time.Second
)

// Sign signs the request using the given keyID and privateKey.
// For POST requests body is hashed into a Digest header which is
// covered by the signature.
func Sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) error {
	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat)) // Date must be in GMT, not UTC 🤯
	}
	headersToSign := []string{
		RequestTarget,
		"host",
		"date",
	}
	switch req.Method {
	case "GET":
		headersToSign = append(headersToSign, "accept")
	case "POST":
		headersToSign = append(headersToSign, "digest")
		req.Header.Set("Digest", Digest(body))
	}

	var sb bytes.Buffer
	for _, header := range headersToSign {
		line, err := canonicalLine(req, header)
		if err != nil {
			return err
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	hash := sha256.New()
	hash.Write(bytes.TrimRight(sb.Bytes(), "\n")) // remove trailing newline
	digest := hash.Sum(nil)

	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey.(*rsa.PrivateKey), crypto.SHA256, digest)
	if err != nil {
		return err
	}
	enc := base64.StdEncoding.EncodeToString(sig)
	req.Header.Set("Signature", fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`, keyID, strings.Join(headersToSign, " "), enc))
	return nil
}

// canonicalLine returns one line of the canonical string for the given
// header name. The same construction is used on both the signing and the
// verifying side.
func canonicalLine(req *http.Request, header string) (string, error) {
	var sb strings.Builder
	switch header {
	case RequestTarget:
		sb.WriteString("(request-target): ")
		sb.WriteString(strings.ToLower(req.Method))
		sb.WriteString(" ")
		sb.WriteString(req.URL.Path)

		if req.URL.RawQuery != "" {
			sb.WriteString("?")
			sb.WriteString(req.URL.RawQuery)
		}
	case "Host", "host":
		sb.WriteString("host: ")
		if req.Host != "" {
			sb.WriteString(req.Host)
		} else {
			sb.WriteString(req.URL.Host)
		}
	case "Date", "date":
		sb.WriteString("date: ")
		sb.WriteString(req.Header.Get("Date"))
	case "Accept", "accept":
		sb.WriteString("accept: ")
		sb.WriteString(req.Header.Get("Accept"))
	case "Digest", "digest":
		sb.WriteString("digest: ")
		sb.WriteString(req.Header.Get("Digest"))
	default:
		return "", fmt.Errorf("unknown header to sign: %s", header)
	}
	return sb.String(), nil
}
