package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"gorm.io/gorm"
)

// A User is a federated identity, local or remote. Local users own a
// full keypair; remote users carry only the public half, cached from
// their actor document.
type User struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	RemoteID  string `gorm:"size:255;uniqueIndex;not null"`
	Username  string `gorm:"size:64;uniqueIndex:idx_users_username_domain;not null"`
	Domain    string `gorm:"size:64;uniqueIndex:idx_users_username_domain;not null"`
	// Kind is the actor type on the wire, Person or Group.
	Kind        string `gorm:"size:16;not null;default:'Person'"`
	Local       bool   `gorm:"not null;default:false"`
	DisplayName string `gorm:"size:255;not null;default:''"`
	Summary     string `gorm:"not null;default:''"`
	AvatarURL   string `gorm:"size:255;not null;default:''"`

	InboxURL       string `gorm:"size:255;not null"`
	OutboxURL      string `gorm:"size:255;not null;default:''"`
	SharedInboxURL string `gorm:"size:255;not null;default:''"`
	FollowersURL   string `gorm:"size:255;not null;default:''"`

	ManuallyApprovesFollowers bool `gorm:"not null;default:false"`
	// SameSoftware records whether the user's server speaks our extended
	// vocabulary; catalog updates are only broadcast to such peers.
	SameSoftware bool `gorm:"not null;default:false"`
	Deleted      bool `gorm:"not null;default:false"`

	FederatedServerID *snowflake.ID
	FederatedServer   *FederatedServer

	KeyPair *KeyPair `gorm:"constraint:OnDelete:CASCADE;"`

	// local account credentials; empty for remote users.
	Email             string `gorm:"size:64;not null;default:''"`
	EncryptedPassword []byte `gorm:"size:60"`
}

func (u *User) IsLocal() bool  { return u.Local }
func (u *User) IsRemote() bool { return !u.Local }

// Inbox returns the user's shared inbox URL if it has one, otherwise
// its personal inbox.
func (u *User) Inbox() string {
	if u.SharedInboxURL != "" {
		return u.SharedInboxURL
	}
	return u.InboxURL
}

func (u *User) Acct() string {
	if u.Local {
		return u.Username
	}
	return fmt.Sprintf("%s@%s", u.Username, u.Domain)
}

// PublicKeyID is the id of the user's key block in its actor document.
func (u *User) PublicKeyID() string {
	return u.RemoteID + "/#main-key"
}

// AfterSave records the user's domain as a federated peer and links
// the user to it. A peer whose actor documents claim our extended
// vocabulary gets its software recorded, which is what the
// same-software delivery filter matches on.
func (u *User) AfterSave(tx *gorm.DB) error {
	if u.Local {
		return nil
	}
	servers := NewFederatedServers(tx)
	server, err := servers.FindByDomain(u.Domain)
	if isNotFound(err) {
		software := ""
		if u.SameSoftware {
			software = SoftwareName
		}
		server, err = servers.Upsert(u.Domain, software, "")
	}
	if err != nil {
		return err
	}
	if u.SameSoftware && server.Software != SoftwareName {
		if err := tx.Model(server).Update("software", SoftwareName).Error; err != nil {
			return err
		}
	}
	if u.FederatedServerID == nil || *u.FederatedServerID != server.ID {
		u.FederatedServerID = &server.ID
		// UpdateColumn, or the write would re-enter this hook
		return tx.Model(u).UpdateColumn("federated_server_id", server.ID).Error
	}
	return nil
}

type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users {
	return &Users{db: db}
}

// Find finds a user by username and domain.
func (u *Users) Find(username, domain string) (*User, error) {
	var user User
	return &user, u.db.Preload("KeyPair").Where("username = ? AND domain = ?", username, domain).Take(&user).Error
}

// FindLocal finds a local user by username.
func (u *Users) FindLocal(username string) (*User, error) {
	var user User
	return &user, u.db.Preload("KeyPair").Where("username = ? AND local = ?", username, true).Take(&user).Error
}

// FindByRemoteID finds a user by its canonical network identity.
func (u *Users) FindByRemoteID(remoteID string) (*User, error) {
	var user User
	return &user, u.db.Preload("KeyPair").Where("remote_id = ?", remoteID).Take(&user).Error
}

// FindOrCreate looks up a user by remote id, calling create to
// materialize and persist it if it is not known locally. create must
// handle losing a concurrent creation race itself.
func (u *Users) FindOrCreate(remoteID string, create func(string) (*User, error)) (*User, error) {
	user, err := u.FindByRemoteID(remoteID)
	if err == nil {
		return user, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return create(remoteID)
}

// Followers returns the remote users following the given user, ordered
// by follow date. If software is non-empty the result is restricted to
// followers on servers running that software.
func (u *Users) Followers(user *User, software string) ([]*User, error) {
	query := u.db.
		Joins("JOIN follows ON follows.user_id = users.id AND follows.target_id = ? AND follows.state = ?", user.ID, FollowAccepted).
		Where("users.local = ?", false).
		Order("follows.id")
	if software != "" {
		query = query.Joins("JOIN federated_servers ON federated_servers.id = users.federated_server_id AND federated_servers.Software = ?", software)
	}
	var followers []*User
	return followers, query.Find(&followers).Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
