package models

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
)

// An Author writes Works.
type Author struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`
	// OriginID is the identity a record had on the non-federated source
	// it was imported from, an alternate dedup key.
	OriginID      string `gorm:"size:255;index;not null;default:''"`
	Name          string `gorm:"size:255;not null"`
	Bio           string `gorm:"not null;default:''"`
	ISNI          string `gorm:"size:32;not null;default:''"`
	ViafID        string `gorm:"size:32;not null;default:''"`
	WikipediaLink string `gorm:"size:255;not null;default:''"`
	Born          *time.Time
	Died          *time.Time
}

func (a *Author) GetRemoteID() string { return a.RemoteID }

// A Work is the platonic book; Editions are its concrete published
// forms.
type Work struct {
	ID                 snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	RemoteID           string `gorm:"size:255;uniqueIndex;not null"`
	OriginID           string `gorm:"size:255;index;not null;default:''"`
	Title              string `gorm:"size:255;not null"`
	Description        string `gorm:"not null;default:''"`
	CoverURL           string `gorm:"size:255;not null;default:''"`
	Cover              []byte
	CoverAlt           string `gorm:"size:255;not null;default:''"`
	FirstPublishedDate *time.Time

	Authors  []*Author  `gorm:"many2many:work_authors;"`
	Editions []*Edition `gorm:"constraint:OnDelete:SET NULL;"`
}

// An Edition is one published form of a Work, deduplicated by remote
// id, isbn, or origin id.
type Edition struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`
	OriginID  string `gorm:"size:255;index;not null;default:''"`

	Title       string `gorm:"size:255;not null"`
	Subtitle    string `gorm:"size:255;not null;default:''"`
	Description string `gorm:"not null;default:''"`

	ISBN10     string `gorm:"column:isbn10;size:10;index;not null;default:''"`
	ISBN13     string `gorm:"column:isbn13;size:13;index;not null;default:''"`
	OclcNumber string `gorm:"size:32;not null;default:''"`
	ASIN       string `gorm:"size:32;not null;default:''"`

	Pages          *int32
	PhysicalFormat string `gorm:"size:64;not null;default:''"`
	// Publishers and Languages are wire-facing string lists.
	Publishers    []string `gorm:"serializer:json"`
	Languages     []string `gorm:"serializer:json"`
	PublishedDate *time.Time

	CoverURL string `gorm:"size:255;not null;default:''"`
	Cover    []byte
	CoverAlt string `gorm:"size:255;not null;default:''"`

	WorkID *snowflake.ID
	Work   *Work

	Authors []*Author `gorm:"many2many:edition_authors;"`
}

func (e *Edition) GetRemoteID() string { return e.RemoteID }

type Authors struct {
	db *gorm.DB
}

func NewAuthors(db *gorm.DB) *Authors {
	return &Authors{db: db}
}

// FindExisting deduplicates an author by remote id, falling back to
// origin id.
func (a *Authors) FindExisting(remoteID, originID string) (*Author, error) {
	var author Author
	query := a.db.Where("remote_id = ?", remoteID)
	if originID != "" {
		query = query.Or("origin_id = ?", originID)
	}
	if remoteID != "" {
		query = query.Or("origin_id = ?", remoteID)
	}
	return &author, query.Take(&author).Error
}

type Works struct {
	db *gorm.DB
}

func NewWorks(db *gorm.DB) *Works {
	return &Works{db: db}
}

func (w *Works) FindExisting(remoteID, originID string) (*Work, error) {
	var work Work
	query := w.db.Preload("Authors").Where("remote_id = ?", remoteID)
	if originID != "" {
		query = query.Or("origin_id = ?", originID)
	}
	if remoteID != "" {
		query = query.Or("origin_id = ?", remoteID)
	}
	return &work, query.Take(&work).Error
}

type Editions struct {
	db *gorm.DB
}

func NewEditions(db *gorm.DB) *Editions {
	return &Editions{db: db}
}

// EditionKeys are the candidate deduplication keys of an edition.
type EditionKeys struct {
	RemoteID   string
	ISBN10     string
	ISBN13     string
	OclcNumber string
	ASIN       string
	OriginID   string
}

// FindExisting returns at most one edition matching any of the keys.
// Zero matches is a not-found error; the caller may then create a new
// row, never silently merge.
func (e *Editions) FindExisting(keys EditionKeys) (*Edition, error) {
	query := e.db.Preload("Authors").Preload("Work").Where("remote_id = ?", keys.RemoteID)
	if keys.ISBN10 != "" {
		query = query.Or("isbn10 = ?", keys.ISBN10)
	}
	if keys.ISBN13 != "" {
		query = query.Or("isbn13 = ?", keys.ISBN13)
	}
	if keys.OclcNumber != "" {
		query = query.Or("oclc_number = ?", keys.OclcNumber)
	}
	if keys.ASIN != "" {
		query = query.Or("asin = ?", keys.ASIN)
	}
	if keys.OriginID != "" {
		query = query.Or("origin_id = ?", keys.OriginID)
	}
	if keys.RemoteID != "" {
		query = query.Or("origin_id = ?", keys.RemoteID)
	}
	var edition Edition
	return &edition, query.Take(&edition).Error
}
