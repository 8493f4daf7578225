package activitypub

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"

	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/internal/httpsig"
	"github.com/shelfpub/shelfpub/models"
)

// trimKeyID strips the key fragment from a signature's keyId, yielding
// the actor identifier. Both the "actor#main-key" and the legacy
// "actor/#main-key" forms occur in the wild.
func trimKeyID(keyID string) string {
	id, _, _ := strings.Cut(keyID, "#")
	return strings.TrimSuffix(id, "/")
}

// EnsureKeyPair returns the actor's keypair, generating one the first
// time a local actor needs it. An existing key is never regenerated.
func (s *Service) EnsureKeyPair(user *models.User) (*models.KeyPair, error) {
	return models.NewKeyPairs(s.db).GetOrCreate(user)
}

// VerifySignature authenticates an inbound request and returns the
// signing actor. The signer is resolved (and fetched, if unknown) from
// the signature's keyId.
//
// A failure against the cached key triggers one refresh of the
// signer's actor document: if the refreshed key differs the
// verification is retried once, tolerating key rotation; if it is
// unchanged the original failure stands.
func (s *Service) VerifySignature(ctx context.Context, r *http.Request, body []byte) (*models.User, error) {
	sig, err := httpsig.ParseSignature(r)
	if err != nil {
		return nil, err
	}
	signer, err := s.ResolveUser(ctx, trimKeyID(sig.KeyID))
	if err != nil {
		return nil, err
	}
	publicKey, err := s.signerKey(signer)
	if err != nil {
		return nil, err
	}
	verr := sig.Verify(publicKey, r, body)
	if verr == nil {
		return signer, nil
	}
	if !errors.Is(verr, httpsig.ErrInvalidSignature) {
		// stale dates and digest mismatches are not fixed by a fresh key
		return nil, verr
	}
	refreshed, err := s.refreshSignerKey(ctx, signer)
	if err != nil {
		return nil, verr
	}
	if refreshed == nil {
		// key unchanged upstream, the signature is genuinely bad
		return nil, verr
	}
	if err := sig.Verify(refreshed, r, body); err != nil {
		return nil, err
	}
	return signer, nil
}

func (s *Service) signerKey(signer *models.User) (publicKey *rsa.PublicKey, err error) {
	if signer.KeyPair == nil || len(signer.KeyPair.PublicKey) == 0 {
		return nil, serializerErrorf("signer %s has no public key", signer.Acct())
	}
	return crypto.ParseRSAPublicKey(signer.KeyPair.PublicKey)
}

// refreshSignerKey re-fetches the signer's actor document and replaces
// the cached public key if it changed. Returns nil with no error when
// the upstream key is identical to the cached one.
func (s *Service) refreshSignerKey(ctx context.Context, signer *models.User) (*rsa.PublicKey, error) {
	a, err := s.fetchActivity(ctx, signer.RemoteID)
	if err != nil {
		return nil, err
	}
	if !a.Kind().IsActor() {
		return nil, serializerErrorf("expected an actor document, got %s", a.Kind())
	}
	key, err := a.Object("publicKey")
	if err != nil || key == nil {
		return nil, serializerErrorf("refreshed actor %s carries no key", signer.RemoteID)
	}
	pem := []byte(key.String("publicKeyPem"))
	if crypto.SameKey(signer.KeyPair.PublicKey, pem) {
		return nil, nil
	}
	publicKey, err := crypto.ParseRSAPublicKey(pem)
	if err != nil {
		return nil, err
	}
	if err := models.NewKeyPairs(s.db).ReplacePublicKey(signer, pem); err != nil {
		return nil, err
	}
	signer.KeyPair.PublicKey = pem
	return publicKey, nil
}
