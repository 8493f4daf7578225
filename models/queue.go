package models

import (
	"github.com/shelfpub/shelfpub/internal/snowflake"
)

// federation queue tables. Rows are units of asynchronous work drained
// by the workers package: at-least-once, unordered, deleted on success.

// A Delivery is one signed payload awaiting delivery to one inbox.
type Delivery struct {
	Request

	SenderID snowflake.ID `gorm:"not null"`
	Sender   *User

	// InboxURL is the recipient, personal or shared.
	InboxURL string `gorm:"size:255;not null"`
	Payload  []byte `gorm:"not null"`
}

// An InboundActivity is a signature-verified activity awaiting
// processing.
type InboundActivity struct {
	Request

	Payload []byte `gorm:"not null"`
	// RemoteAddr is kept for operator forensics only.
	RemoteAddr string `gorm:"size:64;not null;default:''"`
}
