package activitypub

import (
	"time"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
)

const (
	PrivacyPublic    = "public"
	PrivacyUnlisted  = "unlisted"
	PrivacyFollowers = "followers"
	PrivacyDirect    = "direct"
)

var noteKinds = map[Kind]bool{
	Note: true, Article: true, GeneratedNote: true,
	Comment: true, Review: true, Quotation: true, Progress: true,
}

// statusMappings is assigned in init. The inReplyTo closure calls
// resolveStatus, whose ToLocal path reads this table again.
var statusMappings []Mapping[models.Status]

func init() {
	statusMappings = []Mapping[models.Status]{
		{
			Wire: "attributedTo",
			Value: func(s *models.Status) (any, bool) {
				if s.User == nil {
					return nil, false
				}
				return s.User.RemoteID, true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				down, err := rc.descend()
				if err != nil {
					return err
				}
				author, err := rc.svc.resolveUser(down, a.String("attributedTo"), false)
				if err != nil {
					return err
				}
				s.UserID = author.ID
				s.User = author
				return nil
			},
		},
		{
			Wire:  "content",
			Value: func(s *models.Status) (any, bool) { return s.Content, true },
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				s.Content = a.String("content")
				return nil
			},
		},
		{
			Wire: "published",
			Value: func(s *models.Status) (any, bool) {
				return s.PublishedAt.UTC().Format(time.RFC3339), true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				if t, ok := a.Time("published"); ok {
					s.PublishedAt = t
				} else {
					s.PublishedAt = time.Now().UTC()
				}
				return nil
			},
		},
		{
			Wire: "updated",
			Value: func(s *models.Status) (any, bool) {
				if s.EditedAt == nil {
					return nil, false
				}
				return s.EditedAt.UTC().Format(time.RFC3339), true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				if t, ok := a.Time("updated"); ok {
					s.EditedAt = &t
				}
				return nil
			},
		},
		{
			Wire:  "sensitive",
			Value: func(s *models.Status) (any, bool) { return s.Sensitive, true },
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				s.Sensitive = a.Bool("sensitive")
				return nil
			},
		},
		{
			Wire: "inReplyTo",
			Value: func(s *models.Status) (any, bool) {
				if s.InReplyTo == nil {
					return nil, false
				}
				return s.InReplyTo.RemoteID, true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				id := a.String("inReplyTo")
				if id == "" {
					return nil
				}
				down, err := rc.descend()
				if err != nil {
					return err
				}
				// an unreachable parent detaches the reply, it does not
				// reject it
				parent, err := rc.svc.resolveStatus(down, id, false)
				if err != nil {
					return nil
				}
				s.InReplyToID = &parent.ID
				return nil
			},
		},
		{
			Wire: "inReplyToBook",
			Value: func(s *models.Status) (any, bool) {
				if s.Book == nil {
					return nil, false
				}
				return s.Book.RemoteID, true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				id := a.String("inReplyToBook")
				if id == "" {
					return nil
				}
				down, err := rc.descend()
				if err != nil {
					return err
				}
				book, err := rc.svc.resolveEdition(down, id, false)
				if err != nil {
					return err
				}
				s.BookID = &book.ID
				s.Book = book
				return nil
			},
		},
		{
			Wire:  "name",
			Value: func(s *models.Status) (any, bool) { return s.Name, true },
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				s.Name = a.String("name")
				return nil
			},
		},
		{
			Wire: "rating",
			Value: func(s *models.Status) (any, bool) {
				if s.Rating == nil {
					return nil, false
				}
				return *s.Rating, true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				if rating, ok := a.Float("rating"); ok {
					s.Rating = &rating
				}
				return nil
			},
		},
		{
			Wire:  "quote",
			Value: func(s *models.Status) (any, bool) { return s.Quote, true },
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				s.Quote = a.String("quote")
				return nil
			},
		},
		{
			Wire: "position",
			Value: func(s *models.Status) (any, bool) {
				if s.Position == nil {
					return nil, false
				}
				return float64(*s.Position), true
			},
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				if pos, ok := a.Float("position"); ok {
					n := int32(pos)
					s.Position = &n
				}
				return nil
			},
		},
		{
			Wire:  "positionMode",
			Value: func(s *models.Status) (any, bool) { return s.PositionMode, true },
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				s.PositionMode = a.String("positionMode")
				return nil
			},
		},
		{
			Wire:  "readingStatus",
			Value: func(s *models.Status) (any, bool) { return s.ReadingStatus, true },
			Assign: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				s.ReadingStatus = a.String("readingStatus")
				return nil
			},
		},
		{
			// mentioned actors feed the tag list
			Wire: "tag",
			Value: func(s *models.Status) (any, bool) {
				tags := make([]any, 0, len(s.Mentions))
				for _, m := range s.Mentions {
					tags = append(tags, map[string]any{
						"type": string(Mention),
						"href": m.RemoteID,
						"name": "@" + m.Acct(),
					})
				}
				return tags, true
			},
			Attach: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				var mentioned []*models.User
				for _, tag := range a.Maps("tag") {
					if kind, _ := tag["type"].(string); kind != string(Mention) {
						continue
					}
					href, _ := tag["href"].(string)
					if href == "" {
						continue
					}
					down, err := rc.descend()
					if err != nil {
						return err
					}
					user, err := rc.svc.resolveUser(down, href, false)
					if err != nil {
						return err
					}
					mentioned = append(mentioned, user)
				}
				return rc.svc.db.Model(s).Association("Mentions").Replace(mentioned)
			},
		},
		{
			// referenced editions feed the same tag list; the two mappings
			// concatenate on the wire
			Wire: "tag",
			Value: func(s *models.Status) (any, bool) {
				tags := make([]any, 0, len(s.Books))
				for _, b := range s.Books {
					tags = append(tags, map[string]any{
						"type": string(EditionKind),
						"href": b.RemoteID,
						"name": b.Title,
					})
				}
				return tags, true
			},
			Attach: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				var books []*models.Edition
				for _, tag := range a.Maps("tag") {
					if kind, _ := tag["type"].(string); kind != string(EditionKind) {
						continue
					}
					href, _ := tag["href"].(string)
					if href == "" {
						continue
					}
					down, err := rc.descend()
					if err != nil {
						return err
					}
					book, err := rc.svc.resolveEdition(down, href, false)
					if err != nil {
						return err
					}
					books = append(books, book)
				}
				return rc.svc.db.Model(s).Association("Books").Replace(books)
			},
		},
		{
			Wire: "attachment",
			Value: func(s *models.Status) (any, bool) {
				out := make([]any, 0, len(s.Attachments))
				for _, att := range s.Attachments {
					out = append(out, map[string]any{
						"type": string(Image),
						"url":  att.URL,
						"name": att.Name,
					})
				}
				return out, true
			},
			Attach: func(rc *resolveCtx, a *Activity, s *models.Status) error {
				if err := rc.svc.db.Where("status_id = ?", s.ID).Delete(&models.StatusAttachment{}).Error; err != nil {
					return err
				}
				for _, att := range a.Maps("attachment") {
					href, _ := att["url"].(string)
					if href == "" {
						continue
					}
					name, _ := att["name"].(string)
					row := &models.StatusAttachment{
						ID:       snowflake.Now(),
						StatusID: s.ID,
						URL:      href,
						Name:     name,
					}
					if err := rc.svc.db.Create(row).Error; err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}

// StatusToWire serializes a status as its wire kind. Deleted statuses
// serialize as Tombstones. User, Book, Mentions and Attachments must
// be loaded.
func (s *Service) StatusToWire(status *models.Status) (*Activity, error) {
	if status.Deleted {
		return Construct(Tombstone, map[string]any{"id": status.RemoteID})
	}
	kind := Kind(status.Kind)
	if !noteKinds[kind] {
		return nil, serializerErrorf("status %d has non-note kind %q", status.ID, status.Kind)
	}
	fields := wireFields(status, statusMappings)
	fields["id"] = status.RemoteID
	to, cc := addressingFor(status)
	fields["to"] = to
	fields["cc"] = cc
	return Construct(kind, fields)
}

// addressingFor maps a status's privacy level onto to and cc lists.
func addressingFor(status *models.Status) ([]any, []any) {
	mentions := make([]any, 0, len(status.Mentions))
	for _, m := range status.Mentions {
		mentions = append(mentions, m.RemoteID)
	}
	var followers string
	if status.User != nil {
		followers = status.User.FollowersURL
	}
	switch status.Privacy {
	case PrivacyUnlisted:
		return []any{followers}, append([]any{PublicAudience}, mentions...)
	case PrivacyFollowers:
		return []any{followers}, mentions
	case PrivacyDirect:
		return mentions, []any{}
	default:
		return []any{PublicAudience}, append([]any{followers}, mentions...)
	}
}

// privacyFor derives the privacy level from inbound addressing.
func privacyFor(a *Activity, followersURL string) string {
	to, cc := a.Strings("to"), a.Strings("cc")
	for _, addr := range to {
		if addr == PublicAudience {
			return PrivacyPublic
		}
	}
	for _, addr := range cc {
		if addr == PublicAudience {
			return PrivacyUnlisted
		}
	}
	for _, addr := range to {
		if addr == followersURL && followersURL != "" {
			return PrivacyFollowers
		}
	}
	return PrivacyDirect
}

// statusToLocal materializes a note-family document as a status row.
func (s *Service) statusToLocal(rc *resolveCtx, a *Activity, existing *models.Status) (*models.Status, error) {
	if !noteKinds[a.Kind()] {
		return nil, serializerErrorf("expected a status, got %s", a.Kind())
	}
	statuses := models.NewStatuses(s.db)
	if existing == nil {
		if known, err := statuses.FindByRemoteID(a.ID()); err == nil {
			existing = known
		}
	}
	status := existing
	fresh := status == nil
	if fresh {
		status = &models.Status{ID: snowflake.Now(), RemoteID: a.ID()}
	}
	status.Kind = string(a.Kind())
	if err := assignAll(rc, a, status, statusMappings); err != nil {
		return nil, err
	}
	status.Privacy = privacyFor(a, status.User.FollowersURL)
	status, err := persist(s.db, status, fresh, func() (*models.Status, error) {
		return statuses.FindByRemoteID(a.ID())
	})
	if err != nil {
		return nil, err
	}
	return status, attachAll(rc, a, status, statusMappings)
}
