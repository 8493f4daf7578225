package activitypub

import (
	"context"

	"github.com/shelfpub/shelfpub/internal/isbn"
	"github.com/shelfpub/shelfpub/models"
)

// ResolveUser returns the local row for a remote actor identifier,
// fetching and materializing the actor document if it is not yet
// known. Dedup lookup always runs first, so repeated resolution of a
// known identifier never touches the network.
func (s *Service) ResolveUser(ctx context.Context, remoteID string) (*models.User, error) {
	return s.resolveUser(s.newResolveCtx(ctx), remoteID, false)
}

// RefreshUser re-fetches an actor document and applies it to the
// existing row in place.
func (s *Service) RefreshUser(ctx context.Context, user *models.User) (*models.User, error) {
	return s.resolveUser(s.newResolveCtx(ctx), user.RemoteID, true)
}

func (s *Service) resolveUser(rc *resolveCtx, remoteID string, forceRefresh bool) (*models.User, error) {
	users := models.NewUsers(s.db)
	if forceRefresh {
		var existing *models.User
		if known, err := users.FindByRemoteID(remoteID); err == nil {
			existing = known
		}
		a, err := s.fetchActivity(rc, remoteID)
		if err != nil {
			return nil, err
		}
		return s.personToLocal(rc, a, existing)
	}
	return users.FindOrCreate(remoteID, func(id string) (*models.User, error) {
		a, err := s.fetchActivity(rc, id)
		if err != nil {
			return nil, err
		}
		return s.personToLocal(rc, a, nil)
	})
}

// ResolveEdition returns the local edition for a remote identifier,
// fetching it if absent. Resolution may recurse into the edition's
// work and authors.
func (s *Service) ResolveEdition(ctx context.Context, remoteID string) (*models.Edition, error) {
	return s.resolveEdition(s.newResolveCtx(ctx), remoteID, false)
}

// RefreshEdition re-fetches an edition document and applies it in
// place.
func (s *Service) RefreshEdition(ctx context.Context, edition *models.Edition) (*models.Edition, error) {
	return s.resolveEdition(s.newResolveCtx(ctx), edition.RemoteID, true)
}

func (s *Service) resolveEdition(rc *resolveCtx, remoteID string, forceRefresh bool) (*models.Edition, error) {
	editions := models.NewEditions(s.db)
	var existing *models.Edition
	if known, err := editions.FindExisting(models.EditionKeys{RemoteID: remoteID}); err == nil {
		if !forceRefresh {
			return known, nil
		}
		existing = known
	}
	a, err := s.fetchActivity(rc, remoteID)
	if err != nil {
		return nil, err
	}
	// the fetched document may match a row under a different key, eg.
	// the same ISBN imported from elsewhere
	if existing == nil {
		if known, err := editions.FindExisting(models.EditionKeys{
			RemoteID: remoteID,
			ISBN10:   isbn.Normalize(a.String("isbn10")),
			ISBN13:   isbn.Normalize(a.String("isbn13")),
		}); err == nil {
			existing = known
		}
	}
	return s.editionToLocal(rc, a, existing)
}

// ResolveWork returns the local work for a remote identifier.
func (s *Service) ResolveWork(ctx context.Context, remoteID string) (*models.Work, error) {
	return s.resolveWork(s.newResolveCtx(ctx), remoteID, false)
}

func (s *Service) resolveWork(rc *resolveCtx, remoteID string, forceRefresh bool) (*models.Work, error) {
	works := models.NewWorks(s.db)
	var existing *models.Work
	if known, err := works.FindExisting(remoteID, ""); err == nil {
		if !forceRefresh {
			return known, nil
		}
		existing = known
	}
	a, err := s.fetchActivity(rc, remoteID)
	if err != nil {
		return nil, err
	}
	return s.workToLocal(rc, a, existing)
}

// ResolveAuthor returns the local author for a remote identifier.
func (s *Service) ResolveAuthor(ctx context.Context, remoteID string) (*models.Author, error) {
	return s.resolveAuthor(s.newResolveCtx(ctx), remoteID, false)
}

func (s *Service) resolveAuthor(rc *resolveCtx, remoteID string, forceRefresh bool) (*models.Author, error) {
	authors := models.NewAuthors(s.db)
	var existing *models.Author
	if known, err := authors.FindExisting(remoteID, ""); err == nil {
		if !forceRefresh {
			return known, nil
		}
		existing = known
	}
	a, err := s.fetchActivity(rc, remoteID)
	if err != nil {
		return nil, err
	}
	return s.authorToLocal(rc, a, existing)
}

// ResolveStatus returns the local status for a remote identifier,
// fetching and materializing it, along with its author, mentioned
// users and referenced books, if absent.
func (s *Service) ResolveStatus(ctx context.Context, remoteID string) (*models.Status, error) {
	return s.resolveStatus(s.newResolveCtx(ctx), remoteID, false)
}

func (s *Service) resolveStatus(rc *resolveCtx, remoteID string, forceRefresh bool) (*models.Status, error) {
	statuses := models.NewStatuses(s.db)
	var existing *models.Status
	if known, err := statuses.FindByRemoteID(remoteID); err == nil {
		if !forceRefresh {
			return known, nil
		}
		existing = known
	}
	a, err := s.fetchActivity(rc, remoteID)
	if err != nil {
		return nil, err
	}
	return s.statusToLocal(rc, a, existing)
}
