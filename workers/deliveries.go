package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfpub/shelfpub/activitypub"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

// NewDeliveryProcessor drains the delivery queue, posting each queued
// payload to its inbox signed as the sender. Failed deliveries are
// retried on later passes until the attempt limit; each recipient is
// independent, so one unreachable server never blocks the rest.
func NewDeliveryProcessor(db *gorm.DB, svc *activitypub.Service) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		fmt.Println("DeliveryProcessor started")
		defer fmt.Println("DeliveryProcessor stopped")

		db := db.WithContext(ctx)
		for {
			if err := process(db, deliveryScope, deliverOne(svc)); err != nil {
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

func deliveryScope(db *gorm.DB) *gorm.DB {
	return db.Preload("Sender").Preload("Sender.KeyPair").Where("attempts < 3")
}

func deliverOne(svc *activitypub.Service) func(*gorm.DB, *models.Delivery) error {
	return func(db *gorm.DB, delivery *models.Delivery) error {
		if delivery.Sender == nil {
			return fmt.Errorf("delivery %d has no sender", delivery.ID)
		}
		ctx := db.Statement.Context
		return svc.DeliverOne(ctx, delivery.Sender, delivery.Payload, delivery.InboxURL)
	}
}
