package activitypub

import (
	"errors"
	"net/url"

	"github.com/shelfpub/shelfpub/internal/crypto"
	"github.com/shelfpub/shelfpub/internal/sanitize"
	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

var userMappings = []Mapping[models.User]{
	{
		Wire:  "preferredUsername",
		Value: func(u *models.User) (any, bool) { return u.Username, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.Username = a.String("preferredUsername")
			return nil
		},
	},
	{
		Wire:  "name",
		Value: func(u *models.User) (any, bool) { return u.DisplayName, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.DisplayName = sanitize.Text(a.String("name"))
			return nil
		},
	},
	{
		Wire:  "summary",
		Value: func(u *models.User) (any, bool) { return u.Summary, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.Summary = a.String("summary")
			return nil
		},
	},
	{
		Wire:  "inbox",
		Value: func(u *models.User) (any, bool) { return u.InboxURL, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.InboxURL = a.String("inbox")
			return nil
		},
	},
	{
		Wire:  "outbox",
		Value: func(u *models.User) (any, bool) { return u.OutboxURL, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.OutboxURL = a.String("outbox")
			return nil
		},
	},
	{
		Wire:  "followers",
		Value: func(u *models.User) (any, bool) { return u.FollowersURL, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.FollowersURL = a.String("followers")
			return nil
		},
	},
	{
		Wire: "endpoints",
		Value: func(u *models.User) (any, bool) {
			if u.SharedInboxURL == "" {
				return nil, false
			}
			return map[string]any{"sharedInbox": u.SharedInboxURL}, true
		},
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			if endpoints := a.Map("endpoints"); endpoints != nil {
				if shared, ok := endpoints["sharedInbox"].(string); ok {
					u.SharedInboxURL = shared
				}
			}
			return nil
		},
	},
	{
		Wire: "icon",
		Value: func(u *models.User) (any, bool) {
			if u.AvatarURL == "" {
				return nil, false
			}
			return map[string]any{"type": string(Image), "url": u.AvatarURL}, true
		},
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			if icon := a.Map("icon"); icon != nil {
				if href, ok := icon["url"].(string); ok {
					u.AvatarURL = href
				}
			}
			return nil
		},
	},
	{
		Wire:  "manuallyApprovesFollowers",
		Value: func(u *models.User) (any, bool) { return u.ManuallyApprovesFollowers, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.ManuallyApprovesFollowers = a.Bool("manuallyApprovesFollowers")
			return nil
		},
	},
	{
		Wire:  "shelfpubUser",
		Value: func(u *models.User) (any, bool) { return u.Local || u.SameSoftware, true },
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			u.SameSoftware = a.Bool("shelfpubUser")
			return nil
		},
	},
	{
		Wire: "publicKey",
		Value: func(u *models.User) (any, bool) {
			if u.KeyPair == nil {
				return nil, false
			}
			return map[string]any{
				"id":           u.PublicKeyID(),
				"owner":        u.RemoteID,
				"publicKeyPem": string(u.KeyPair.PublicKey),
			}, true
		},
		Assign: func(rc *resolveCtx, a *Activity, u *models.User) error {
			// an existing key is never overwritten here; rotation goes
			// through the explicit refresh path
			if u.KeyPair != nil {
				return nil
			}
			key, err := a.Object("publicKey")
			if err != nil {
				return err
			}
			if key == nil {
				// a bare key identifier satisfies the contract but
				// carries no material
				return serializerErrorf("actor %s carries no public key block", a.ID())
			}
			pem := key.String("publicKeyPem")
			if _, err := crypto.ParseRSAPublicKey([]byte(pem)); err != nil {
				return serializerErrorf("actor %s carries an unparseable public key", a.ID())
			}
			u.KeyPair = &models.KeyPair{
				UserID:    u.ID,
				RemoteID:  key.ID(),
				PublicKey: []byte(pem),
			}
			return nil
		},
	},
}

// UserToWire serializes a user as its actor document.
func (s *Service) UserToWire(user *models.User) (*Activity, error) {
	fields := wireFields(user, userMappings)
	fields["id"] = user.RemoteID
	kind := Kind(user.Kind)
	if !kind.IsActor() {
		return nil, serializerErrorf("user %s has non-actor kind %q", user.Acct(), user.Kind)
	}
	return Construct(kind, fields)
}

// personToLocal materializes an actor document as a user row. When
// existing is nil the activity id is first deduplicated against known
// users.
func (s *Service) personToLocal(rc *resolveCtx, a *Activity, existing *models.User) (*models.User, error) {
	if !a.Kind().IsActor() {
		return nil, serializerErrorf("expected an actor document, got %s", a.Kind())
	}
	users := models.NewUsers(s.db)
	if existing == nil {
		if known, err := users.FindByRemoteID(a.ID()); err == nil {
			existing = known
		}
	}
	user := existing
	fresh := user == nil
	if fresh {
		user = &models.User{
			ID:       snowflake.Now(),
			RemoteID: a.ID(),
		}
	}
	host, err := url.Parse(a.ID())
	if err != nil || host.Host == "" {
		return nil, serializerErrorf("actor id %q is not a dereferenceable identifier", a.ID())
	}
	user.Domain = host.Host
	user.Kind = string(a.Kind())
	if err := assignAll(rc, a, user, userMappings); err != nil {
		return nil, err
	}
	if fresh {
		if err := s.db.Create(user).Error; err != nil {
			// lost a concurrent resolution race; use the winner's row
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return users.FindByRemoteID(a.ID())
			}
			return nil, err
		}
	} else {
		if err := s.db.Save(user).Error; err != nil {
			return nil, err
		}
	}
	if err := attachAll(rc, a, user, userMappings); err != nil {
		return nil, err
	}
	return user, nil
}
