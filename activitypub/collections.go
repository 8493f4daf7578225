package activitypub

import (
	"context"
	"fmt"
	"strings"

	"github.com/shelfpub/shelfpub/internal/snowflake"
	"github.com/shelfpub/shelfpub/models"
)

// CollectionPageSize is the number of items served per collection
// page.
const CollectionPageSize = 20

// ShelfToWire serializes a shelf as an OrderedCollection. The User
// association must be loaded.
func (s *Service) ShelfToWire(shelf *models.Shelf, totalItems int64) (*Activity, error) {
	fields := map[string]any{
		"id":         shelf.RemoteID,
		"name":       shelf.Name,
		"totalItems": float64(totalItems),
		"first":      shelf.RemoteID + "?page=1",
	}
	if shelf.User != nil {
		fields["owner"] = shelf.User.RemoteID
	}
	return Construct(OrderedCollection, fields)
}

// ShelfPageToWire serializes one page of a shelf's editions.
func (s *Service) ShelfPageToWire(shelf *models.Shelf, items []*models.ShelfItem, page int, hasNext bool) (*Activity, error) {
	ordered := make([]any, 0, len(items))
	for _, item := range items {
		if item.Edition != nil {
			ordered = append(ordered, item.Edition.RemoteID)
		}
	}
	fields := map[string]any{
		"id":           fmt.Sprintf("%s?page=%d", shelf.RemoteID, page),
		"partOf":       shelf.RemoteID,
		"orderedItems": ordered,
	}
	if hasNext {
		fields["next"] = fmt.Sprintf("%s?page=%d", shelf.RemoteID, page+1)
	}
	if page > 1 {
		fields["prev"] = fmt.Sprintf("%s?page=%d", shelf.RemoteID, page-1)
	}
	return Construct(OrderedCollectionPage, fields)
}

// FollowersToWire serializes a user's follower collection header.
func (s *Service) FollowersToWire(user *models.User) (*Activity, error) {
	followers, err := models.NewUsers(s.db).Followers(user, "")
	if err != nil {
		return nil, err
	}
	return Construct(OrderedCollection, map[string]any{
		"id":         user.FollowersURL,
		"totalItems": float64(len(followers)),
		"first":      user.FollowersURL + "?page=1",
	})
}

// OutboxToWire serializes a user's outbox collection header.
func (s *Service) OutboxToWire(user *models.User) (*Activity, error) {
	var total int64
	if err := s.db.Model(&models.Status{}).Where("user_id = ? AND deleted = ?", user.ID, false).Count(&total).Error; err != nil {
		return nil, err
	}
	return Construct(OrderedCollection, map[string]any{
		"id":         user.OutboxURL,
		"totalItems": float64(total),
		"first":      user.OutboxURL + "?page=1",
	})
}

// OutboxPageToWire serializes the most recent page of a user's outbox
// as Create activities wrapping each status. Statuses that fail to
// serialize are skipped rather than failing the page.
func (s *Service) OutboxPageToWire(user *models.User) (*Activity, error) {
	statuses, err := models.NewStatuses(s.db).ByUser(user, CollectionPageSize)
	if err != nil {
		return nil, err
	}
	ordered := make([]any, 0, len(statuses))
	for _, status := range statuses {
		status.User = user
		obj, err := s.StatusToWire(status)
		if err != nil {
			continue
		}
		wrapped, err := s.WrapCreate(user, obj)
		if err != nil {
			continue
		}
		ordered = append(ordered, wrapped.Serialize())
	}
	return Construct(OrderedCollectionPage, map[string]any{
		"id":           user.OutboxURL + "?page=1",
		"partOf":       user.OutboxURL,
		"orderedItems": ordered,
	})
}

// ResolveShelf returns the local shelf for a remote identifier,
// fetching its collection header if absent. Used when an Add or
// Remove targets a shelf we have not seen.
func (s *Service) ResolveShelf(ctx context.Context, remoteID string) (*models.Shelf, error) {
	return s.resolveShelf(s.newResolveCtx(ctx), remoteID)
}

func (s *Service) resolveShelf(rc *resolveCtx, remoteID string) (*models.Shelf, error) {
	shelves := models.NewShelves(s.db)
	if known, err := shelves.FindByRemoteID(remoteID); err == nil {
		return known, nil
	}
	a, err := s.fetchActivity(rc, remoteID)
	if err != nil {
		return nil, err
	}
	if a.Kind() != OrderedCollection {
		return nil, serializerErrorf("expected an OrderedCollection, got %s", a.Kind())
	}
	owner := a.String("owner")
	if owner == "" {
		return nil, serializerErrorf("shelf %s names no owner", remoteID)
	}
	down, err := rc.descend()
	if err != nil {
		return nil, err
	}
	user, err := s.resolveUser(down, owner, false)
	if err != nil {
		return nil, err
	}
	shelf := &models.Shelf{
		ID:         snowflake.Now(),
		RemoteID:   a.ID(),
		UserID:     user.ID,
		Name:       a.String("name"),
		Identifier: slugify(a.String("name")),
	}
	return persist(s.db, shelf, true, func() (*models.Shelf, error) {
		return shelves.FindByRemoteID(remoteID)
	})
}

func slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		}
		return -1
	}, slug)
	return strings.Trim(slug, "-")
}
