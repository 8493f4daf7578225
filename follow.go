package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shelfpub/shelfpub/activitypub"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

type FollowCmd struct {
	Actor  string `required:"" help:"local username to follow with"`
	Object string `required:"" help:"remote actor url to follow"`
	Domain string `required:"" help:"domain name of the instance"`
}

func (f *FollowCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}

	user, err := models.NewUsers(db).FindLocal(f.Actor)
	if err != nil {
		return err
	}
	svc := activitypub.NewService(db, f.Domain)
	target, err := svc.ResolveUser(context.Background(), f.Object)
	if err != nil {
		return err
	}
	follow := &models.Follow{
		ID:       snowflake.Now(),
		RemoteID: fmt.Sprintf("%s#follows/%s", user.RemoteID, uuid.New()),
		UserID:   user.ID,
		TargetID: target.ID,
		State:    models.FollowPending,
	}
	if err := db.Create(follow).Error; err != nil {
		return err
	}
	follow.User, follow.Target = user, target
	if err := svc.SendFollow(context.Background(), follow); err != nil {
		return err
	}
	fmt.Printf("follow of %s queued for delivery\n", target.Acct())
	return nil
}
