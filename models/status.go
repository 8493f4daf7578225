package models

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
)

// A Status is a user-authored post: a plain note, or one of the
// book-flavoured variants (comment, review, quotation, reading
// progress). Kind records which wire type the status serializes as.
type Status struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`

	UserID snowflake.ID `gorm:"not null"`
	User   *User

	Kind        string `gorm:"size:16;not null;default:'Note'"`
	Content     string `gorm:"not null;default:''"`
	Privacy     string `gorm:"size:10;not null;default:'public'"`
	Sensitive   bool   `gorm:"not null;default:false"`
	PublishedAt time.Time
	EditedAt    *time.Time

	InReplyToID *snowflake.ID
	InReplyTo   *Status

	// BookID is the subject edition of a comment, review, quotation or
	// progress update.
	BookID *snowflake.ID
	Book   *Edition

	// review fields
	Name   string `gorm:"size:255;not null;default:''"`
	Rating *float64

	// quotation fields
	Quote        string `gorm:"not null;default:''"`
	Position     *int32
	PositionMode string `gorm:"size:10;not null;default:''"`

	ReadingStatus string `gorm:"size:20;not null;default:''"`

	// BoostOfID is set when this status announces another.
	BoostOfID *snowflake.ID
	BoostOf   *Status

	Deleted bool `gorm:"not null;default:false"`

	Mentions    []*User             `gorm:"many2many:status_mentions;"`
	Books       []*Edition          `gorm:"many2many:status_books;"`
	Attachments []*StatusAttachment `gorm:"constraint:OnDelete:CASCADE;"`
}

// A StatusAttachment is an image attached to a status.
type StatusAttachment struct {
	ID       snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	StatusID snowflake.ID `gorm:"not null;index"`
	URL      string       `gorm:"size:255;not null"`
	Name     string       `gorm:"size:255;not null;default:''"`
}

// A Like is a user faving a status.
type Like struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	RemoteID  string       `gorm:"size:255;uniqueIndex;not null"`
	UserID    snowflake.ID `gorm:"not null;uniqueIndex:idx_likes_user_status"`
	User      *User
	StatusID  snowflake.ID `gorm:"not null;uniqueIndex:idx_likes_user_status"`
	Status    *Status
}

type Statuses struct {
	db *gorm.DB
}

func NewStatuses(db *gorm.DB) *Statuses {
	return &Statuses{db: db}
}

func (s *Statuses) FindByRemoteID(remoteID string) (*Status, error) {
	var status Status
	return &status, s.db.Preload("User").Preload("Book").Preload("Attachments").Where("remote_id = ?", remoteID).Take(&status).Error
}

// ByUser returns the user's statuses, newest first.
func (s *Statuses) ByUser(user *User, limit int) ([]*Status, error) {
	var statuses []*Status
	return statuses, s.db.Where("user_id = ? AND deleted = ?", user.ID, false).Order("id desc").Limit(limit).Find(&statuses).Error
}

type Likes struct {
	db *gorm.DB
}

func NewLikes(db *gorm.DB) *Likes {
	return &Likes{db: db}
}

func (l *Likes) FindByRemoteID(remoteID string) (*Like, error) {
	var like Like
	return &like, l.db.Where("remote_id = ?", remoteID).Take(&like).Error
}
