package activitypub

import (
	"context"
	"fmt"

	"github.com/shelfpub/shelfpub/models"
	"gorm.io/gorm"
)

// ServiceAccountName is the username of the instance's own actor. It
// signs resource fetches and key refreshes when no other local user is
// acting.
const ServiceAccountName = "shelfpub"

// Service converts between local entities and federation payloads,
// resolves remote identifiers, and dispatches outbound deliveries.
type Service struct {
	db       *gorm.DB
	domain   string
	software string
}

func NewService(db *gorm.DB, domain string) *Service {
	return &Service{
		db:       db,
		domain:   domain,
		software: models.SoftwareName,
	}
}

func (s *Service) userAgent() string {
	return fmt.Sprintf("shelfpub (https://%s/)", s.domain)
}

// clientFor returns a client signing as the given local user.
func (s *Service) clientFor(signAs *models.User) (*Client, error) {
	return NewClient(signAs, s.userAgent())
}

// instanceClient returns a client signing as the instance's service
// actor.
func (s *Service) instanceClient() (*Client, error) {
	signAs, err := models.NewUsers(s.db).FindLocal(ServiceAccountName)
	if err != nil {
		return nil, fmt.Errorf("activitypub: no service account: %w", err)
	}
	return s.clientFor(signAs)
}

// fetchActivity fetches and parses the resource at uri.
func (s *Service) fetchActivity(ctx context.Context, uri string) (*Activity, error) {
	client, err := s.instanceClient()
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := client.Fetch(ctx, uri, &raw); err != nil {
		return nil, err
	}
	return Parse(raw)
}
