package models

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
)

// A Shelf is a user's named collection of editions. On the wire it is
// an OrderedCollection.
type Shelf struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`

	UserID snowflake.ID `gorm:"not null;uniqueIndex:idx_shelves_user_identifier"`
	User   *User

	Name string `gorm:"size:100;not null"`
	// Identifier is the stable slug, eg. to-read, reading, read.
	Identifier string `gorm:"size:100;not null;uniqueIndex:idx_shelves_user_identifier"`
	Privacy    string `gorm:"size:10;not null;default:'public'"`

	Items []*ShelfItem `gorm:"constraint:OnDelete:CASCADE;"`
}

// A ShelfItem is one edition's membership of one shelf. Memberships
// federate as Add and Remove activities targeting the shelf.
type ShelfItem struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`

	ShelfID snowflake.ID `gorm:"not null;uniqueIndex:idx_shelf_items_shelf_edition"`
	Shelf   *Shelf

	EditionID snowflake.ID `gorm:"not null;uniqueIndex:idx_shelf_items_shelf_edition"`
	Edition   *Edition
}

type Shelves struct {
	db *gorm.DB
}

func NewShelves(db *gorm.DB) *Shelves {
	return &Shelves{db: db}
}

func (s *Shelves) FindByRemoteID(remoteID string) (*Shelf, error) {
	var shelf Shelf
	return &shelf, s.db.Preload("User").Where("remote_id = ?", remoteID).Take(&shelf).Error
}

// Items returns one page of a shelf's memberships in shelving order.
func (s *Shelves) Items(shelf *Shelf, offset, limit int) ([]*ShelfItem, int64, error) {
	var count int64
	if err := s.db.Model(&ShelfItem{}).Where("shelf_id = ?", shelf.ID).Count(&count).Error; err != nil {
		return nil, 0, err
	}
	var items []*ShelfItem
	err := s.db.Preload("Edition").Where("shelf_id = ?", shelf.ID).Order("id").Offset(offset).Limit(limit).Find(&items).Error
	return items, count, err
}

type ShelfItems struct {
	db *gorm.DB
}

func NewShelfItems(db *gorm.DB) *ShelfItems {
	return &ShelfItems{db: db}
}

func (s *ShelfItems) FindByRemoteID(remoteID string) (*ShelfItem, error) {
	var item ShelfItem
	return &item, s.db.Preload("Shelf").Preload("Edition").Where("remote_id = ?", remoteID).Take(&item).Error
}
