package main

import (
	"github.com/shelfpub/shelfpub/activitypub"
	"gorm.io/gorm"
)

type CreateInstanceCmd struct {
	Domain string `required:"" help:"domain name of the instance"`
}

// Run creates the instance's service account, which signs resource
// fetches and key refreshes.
func (c *CreateInstanceCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	user, err := newLocalUser(activitypub.ServiceAccountName, c.Domain)
	if err != nil {
		return err
	}
	return db.Create(user).Error
}
