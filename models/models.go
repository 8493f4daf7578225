// Package models contains the persistent types of the federation core
// and their query helpers. Every federated row carries a remote_id, its
// canonical network identity, assigned once and immutable thereafter.
package models

import (
	"time"

	"gorm.io/gorm"
)

// Request records the progress of an asynchronous unit of work.
// Queue tables embed it; the worker loop bumps Attempts and LastResult
// on failure and deletes the row on success.
type Request struct {
	ID uint32 `gorm:"primarykey"`
	// CreatedAt is the time the request was created.
	CreatedAt time.Time
	// UpdatedAt is the time the request was last updated.
	UpdatedAt time.Time
	// Attempts is the number of times the request has been attempted.
	Attempts uint32 `gorm:"not null;default:0"`
	// LastAttempt is the time the request was last attempted.
	LastAttempt time.Time
	// LastResult is the result of the last attempt, typically an error message.
	LastResult string `gorm:"size:255;not null;default:''"`
}

// forEach runs each fn against the same transaction.
func forEach(tx *gorm.DB, fns ...func(*gorm.DB) error) error {
	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}
