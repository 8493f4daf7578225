package models

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
)

// A KeyPair is the asymmetric keypair of exactly one user, created
// lazily on first save of the owning actor and deleted with it. For
// remote users only the public half is known. A non-empty public key is
// never overwritten except by the explicit refresh-on-verification-
// failure path.
type KeyPair struct {
	UserID    snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`
	// PEM encoded.
	PublicKey  []byte `gorm:"not null"`
	PrivateKey []byte
}

type KeyPairs struct {
	db *gorm.DB
}

func NewKeyPairs(db *gorm.DB) *KeyPairs {
	return &KeyPairs{db: db}
}

// GetOrCreate returns the user's keypair, generating a fresh RSA
// keypair if the user has none. An existing keypair is never
// regenerated.
func (k *KeyPairs) GetOrCreate(user *User) (*KeyPair, error) {
	if user.KeyPair != nil && len(user.KeyPair.PublicKey) > 0 {
		return user.KeyPair, nil
	}
	var existing KeyPair
	err := k.db.Where("user_id = ?", user.ID).Take(&existing).Error
	switch {
	case err == nil:
		user.KeyPair = &existing
		return &existing, nil
	case !isNotFound(err):
		return nil, err
	}

	generated, err := crypto.GenerateRSAKeypair()
	if err != nil {
		return nil, err
	}
	pair := &KeyPair{
		UserID:     user.ID,
		RemoteID:   user.PublicKeyID(),
		PublicKey:  generated.PublicKey,
		PrivateKey: generated.PrivateKey,
	}
	if err := k.db.Create(pair).Error; err != nil {
		return nil, err
	}
	user.KeyPair = pair
	return pair, nil
}

// ReplacePublicKey stores a refreshed public key for a remote user.
// This is the only path that may overwrite a non-empty public key.
func (k *KeyPairs) ReplacePublicKey(user *User, publicKeyPem []byte) error {
	if user.Local {
		return gorm.ErrInvalidData
	}
	if user.KeyPair == nil {
		pair := &KeyPair{
			UserID:    user.ID,
			RemoteID:  user.PublicKeyID(),
			PublicKey: publicKeyPem,
		}
		user.KeyPair = pair
		return k.db.Create(pair).Error
	}
	user.KeyPair.PublicKey = publicKeyPem
	return k.db.Model(user.KeyPair).Update("public_key", publicKeyPem).Error
}
