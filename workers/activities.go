package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shelfpub/shelfpub/activitypub"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

// NewInboundProcessor drains the inbound activity queue, applying each
// verified activity to local state. Payloads with contract mismatches
// are dropped rather than retried; the attempt record keeps the error
// for the operator.
func NewInboundProcessor(db *gorm.DB, svc *activitypub.Service) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fmt.Println("InboundProcessor started")
		defer fmt.Println("InboundProcessor stopped")

		db := db.WithContext(ctx)
		for {
			if err := process(db, inboundScope, applyOne(svc)); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(5 * time.Second):
				// continue
			}
		}
	}
}

func inboundScope(db *gorm.DB) *gorm.DB {
	return db.Where("attempts < 3")
}

func applyOne(svc *activitypub.Service) func(*gorm.DB, *models.InboundActivity) error {
	return func(db *gorm.DB, activity *models.InboundActivity) error {
		ctx := db.Statement.Context
		err := svc.ProcessInbound(ctx, activity.Payload)
		if err == nil {
			return nil
		}
		var serr *activitypub.SerializerError
		var verr *activitypub.ValidationError
		if errors.As(err, &serr) || errors.As(err, &verr) {
			// malformed by contract; retrying cannot help
			fmt.Printf("InboundProcessor: dropping activity %d: %v\n", activity.ID, err)
			return nil
		}
		return err
	}
}
