package recipients

import (
	"context"
	"errors"
	"fmt"

	"safety-listener/database"
	"safety-listener/models"

	"github.com/apex/log"
)

// Store is the slice of the database the resolver needs
type Store interface {
	GetSite(ctx context.Context, siteID string) (*models.Site, error)
	GetEligibleRecipients(ctx context.Context, siteID string) ([]models.User, error)
}

// Resolver finds the users who must be alerted for events at a site
type Resolver struct {
	store Store
}

// NewResolver creates a recipient resolver over the given store
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the deduplicated set of eligible recipients for a site:
// notification-enabled admins and supervisors affiliated with it. An unknown
// site yields database.ErrSiteNotFound; a site with no eligible users yields
// an empty set and no error.
func (r *Resolver) Resolve(ctx context.Context, siteID string) ([]models.User, error) {
	if _, err := r.store.GetSite(ctx, siteID); err != nil {
		if errors.Is(err, database.ErrSiteNotFound) {
			log.WithField("site_id", siteID).Warn("No site found for event, skipping notification")
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up site %s: %w", siteID, err)
	}

	users, err := r.store.GetEligibleRecipients(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve recipients for site %s: %w", siteID, err)
	}

	// The query already filters; re-check here so a resolver backed by a
	// coarser store still honors the eligibility predicate.
	seen := make(map[string]bool)
	var recipients []models.User
	for _, user := range users {
		if !eligible(user, siteID) || seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		recipients = append(recipients, user)
	}

	return recipients, nil
}

func eligible(user models.User, siteID string) bool {
	if user.SiteID != siteID || !user.NotificationsEnabled {
		return false
	}
	return user.Role == models.RoleAdmin || user.Role == models.RoleSupervisor
}
