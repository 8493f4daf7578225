package activitypub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/shelfpub/shelfpub/internal/httpx"
	"github.com/shelfpub/shelfpub/internal/to"
	"github.com/shelfpub/shelfpub/models"
)

// Version is reported by nodeinfo and the delivery User-Agent.
const Version = "0.1.0"

func writeActivity(w http.ResponseWriter, a *Activity) error {
	w.Header().Set("Content-Type", `application/activity+json; charset=utf-8`)
	return json.MarshalFull(w, a.Serialize())
}

func (s *Service) localUser(r *http.Request) (*models.User, error) {
	name := chi.URLParam(r, "name")
	user, err := models.NewUsers(s.db).FindLocal(name)
	if err != nil {
		return nil, httpx.Error(http.StatusNotFound, errors.New("no such user"))
	}
	return user, nil
}

// ShowActor serves a local user's actor document.
func (s *Service) ShowActor(w http.ResponseWriter, r *http.Request) error {
	user, err := s.localUser(r)
	if err != nil {
		return err
	}
	if _, err := s.EnsureKeyPair(user); err != nil {
		return err
	}
	actor, err := s.UserToWire(user)
	if err != nil {
		return err
	}
	return writeActivity(w, actor)
}

// ShowOutbox serves a local user's outbox collection, or its first
// page when one is requested.
func (s *Service) ShowOutbox(w http.ResponseWriter, r *http.Request) error {
	user, err := s.localUser(r)
	if err != nil {
		return err
	}
	var params struct {
		Page int `schema:"page"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	var collection *Activity
	if params.Page > 0 {
		collection, err = s.OutboxPageToWire(user)
	} else {
		collection, err = s.OutboxToWire(user)
	}
	if err != nil {
		return err
	}
	return writeActivity(w, collection)
}

// ShowFollowers serves a local user's follower collection header.
func (s *Service) ShowFollowers(w http.ResponseWriter, r *http.Request) error {
	user, err := s.localUser(r)
	if err != nil {
		return err
	}
	collection, err := s.FollowersToWire(user)
	if err != nil {
		return err
	}
	return writeActivity(w, collection)
}

// ShowShelf serves a shelf as an OrderedCollection, paging through its
// editions.
func (s *Service) ShowShelf(w http.ResponseWriter, r *http.Request) error {
	user, err := s.localUser(r)
	if err != nil {
		return err
	}
	var shelf models.Shelf
	if err := s.db.Where("user_id = ? AND identifier = ?", user.ID, chi.URLParam(r, "identifier")).Take(&shelf).Error; err != nil {
		return httpx.Error(http.StatusNotFound, errors.New("no such shelf"))
	}
	shelf.User = user
	var params struct {
		Page int `schema:"page"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	shelves := models.NewShelves(s.db)
	if params.Page > 0 {
		items, total, err := shelves.Items(&shelf, (params.Page-1)*CollectionPageSize, CollectionPageSize)
		if err != nil {
			return err
		}
		hasNext := int64(params.Page*CollectionPageSize) < total
		page, err := s.ShelfPageToWire(&shelf, items, params.Page, hasNext)
		if err != nil {
			return err
		}
		return writeActivity(w, page)
	}
	_, total, err := shelves.Items(&shelf, 0, 1)
	if err != nil {
		return err
	}
	collection, err := s.ShelfToWire(&shelf, total)
	if err != nil {
		return err
	}
	return writeActivity(w, collection)
}

// ShowStatus serves a local status document.
func (s *Service) ShowStatus(w http.ResponseWriter, r *http.Request) error {
	user, err := s.localUser(r)
	if err != nil {
		return err
	}
	remoteID := fmt.Sprintf("https://%s/user/%s/status/%s", s.domain, user.Username, chi.URLParam(r, "id"))
	status, err := models.NewStatuses(s.db).FindByRemoteID(remoteID)
	if err != nil {
		return httpx.Error(http.StatusNotFound, errors.New("no such status"))
	}
	if err := s.db.Model(status).Association("Mentions").Find(&status.Mentions); err != nil {
		return err
	}
	obj, err := s.StatusToWire(status)
	if err != nil {
		return err
	}
	if status.Deleted {
		w.Header().Set("Content-Type", `application/activity+json; charset=utf-8`)
		w.WriteHeader(http.StatusGone)
		return json.MarshalFull(w, obj.Serialize())
	}
	return writeActivity(w, obj)
}

// Webfinger resolves acct: resources to local actor documents.
func (s *Service) Webfinger(w http.ResponseWriter, r *http.Request) error {
	var params struct {
		Resource string `schema:"resource"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return err
	}
	acct := strings.TrimPrefix(params.Resource, "acct:")
	name, domain, found := strings.Cut(acct, "@")
	if !found || domain != s.domain {
		return httpx.Error(http.StatusNotFound, errors.New("unknown resource"))
	}
	user, err := models.NewUsers(s.db).FindLocal(name)
	if err != nil {
		return httpx.Error(http.StatusNotFound, errors.New("unknown resource"))
	}
	w.Header().Set("Content-Type", "application/jrd+json")
	return json.MarshalFull(w, map[string]any{
		"subject": "acct:" + acct,
		"links": []map[string]any{
			{
				"rel":  "self",
				"type": "application/activity+json",
				"href": user.RemoteID,
			},
		},
	})
}

// NodeInfo reports the implementation name and version, which peers
// use to decide whether we understand the extended book vocabulary.
func (s *Service) NodeInfo(w http.ResponseWriter, r *http.Request) error {
	return to.JSON(w, map[string]any{
		"version": "2.0",
		"software": map[string]any{
			"name":    s.software,
			"version": Version,
		},
		"protocols":         []string{"activitypub"},
		"openRegistrations": false,
	})
}
