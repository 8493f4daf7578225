package models

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
)

const (
	FollowPending  = "pending"
	FollowAccepted = "accepted"
)

// A Follow is a directed relationship: User follows Target. It starts
// pending and becomes accepted when the target's server sends an
// Accept; a Reject or Undo removes it.
type Follow struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`

	UserID snowflake.ID `gorm:"not null;uniqueIndex:idx_follows_user_target"`
	User   *User

	TargetID snowflake.ID `gorm:"not null;uniqueIndex:idx_follows_user_target"`
	Target   *User

	State string `gorm:"size:10;not null;default:'pending'"`
}

type Follows struct {
	db *gorm.DB
}

func NewFollows(db *gorm.DB) *Follows {
	return &Follows{db: db}
}

func (f *Follows) FindByRemoteID(remoteID string) (*Follow, error) {
	var follow Follow
	return &follow, f.db.Preload("User").Preload("Target").Where("remote_id = ?", remoteID).Take(&follow).Error
}

// Find returns the relationship between two users, whatever its state.
func (f *Follows) Find(user, target *User) (*Follow, error) {
	var follow Follow
	return &follow, f.db.Where("user_id = ? AND target_id = ?", user.ID, target.ID).Take(&follow).Error
}

// Accept marks the relationship accepted.
func (f *Follows) Accept(follow *Follow) error {
	follow.State = FollowAccepted
	return f.db.Model(follow).Update("state", FollowAccepted).Error
}

// Remove deletes the relationship, for Reject and Undo.
func (f *Follows) Remove(follow *Follow) error {
	return f.db.Delete(follow).Error
}
