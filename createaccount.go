package main

import (
	"fmt"

	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateAccountCmd struct {
	Username string `required:"" help:"username of the account to create"`
	Domain   string `required:"" help:"domain name of the instance"`
	Email    string `required:"" help:"email address of the account"`
	Password string `required:"" help:"password of the account"`
}

func (c *CreateAccountCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	passwd, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user, err := newLocalUser(c.Username, c.Domain)
	if err != nil {
		return err
	}
	user.Email = c.Email
	user.EncryptedPassword = passwd
	return db.Create(user).Error
}

// newLocalUser builds a local user with a fresh keypair and the
// instance's canonical URL layout.
func newLocalUser(username, domain string) (*models.User, error) {
	keypair, err := crypto.GenerateRSAKeypair()
	if err != nil {
		return nil, err
	}
	id := snowflake.Now()
	remoteID := fmt.Sprintf("https://%s/user/%s", domain, username)
	return &models.User{
		ID:           id,
		RemoteID:     remoteID,
		Username:     username,
		Domain:       domain,
		Local:        true,
		DisplayName:  username,
		InboxURL:     remoteID + "/inbox",
		OutboxURL:    remoteID + "/outbox",
		FollowersURL: remoteID + "/followers",
		KeyPair: &models.KeyPair{
			UserID:     id,
			RemoteID:   remoteID + "/#main-key",
			PublicKey:  keypair.PublicKey,
			PrivateKey: keypair.PrivateKey,
		},
	}, nil
}
