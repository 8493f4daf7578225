package models

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SoftwareName is the implementation name this server reports and
// matches peers against for extended-vocabulary delivery.
const SoftwareName = "shelfpub"

// A FederatedServer is a remote peer we have exchanged activities
// with. Software records the implementation the server reports, which
// drives the same-software delivery filter for catalog updates.
type FederatedServer struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Domain    string `gorm:"size:255;uniqueIndex;not null"`
	Software  string `gorm:"size:64;not null;default:''"`
	Version   string `gorm:"size:64;not null;default:''"`
	Blocked   bool   `gorm:"not null;default:false"`
}

type FederatedServers struct {
	db *gorm.DB
}

func NewFederatedServers(db *gorm.DB) *FederatedServers {
	return &FederatedServers{db: db}
}

func (f *FederatedServers) FindByDomain(domain string) (*FederatedServer, error) {
	var server FederatedServer
	return &server, f.db.Where("domain = ?", domain).Take(&server).Error
}

// Upsert records the domain, updating software details if they are known.
func (f *FederatedServers) Upsert(domain, software, version string) (*FederatedServer, error) {
	server := &FederatedServer{
		ID:       snowflake.Now(),
		Domain:   domain,
		Software: software,
		Version:  version,
	}
	err := f.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"software", "version"}),
	}).Create(server).Error
	if err != nil {
		return nil, err
	}
	return f.FindByDomain(domain)
}
