package wp

import (
	"context"
	"fmt"

	"wpsync/internal/model"
)

// SyncResult summarises one activity sync.
type SyncResult struct {
	Fetched  int
	Inserted int
	Updated  int
}

// ActivityService copies site activity logs into the local database.
type ActivityService struct {
	db       Database
	accounts AccountSource
	remotes  RemoteProvider
	clock    Clock
	ids      IDGenerator
	logger   Logger
}

func NewActivityService(db Database, accounts AccountSource, remotes RemoteProvider, clock Clock, ids IDGenerator, logger Logger) *ActivityService {
	return &ActivityService{
		db:       db,
		accounts: accounts,
		remotes:  remotes,
		clock:    clock,
		ids:      ids,
		logger:   loggerOrNop(logger),
	}
}

// SyncActivities fetches the activity log of site and merges it into the
// database. Entries already stored under the same activity ID are updated in
// place and keep their local ID.
func (s *ActivityService) SyncActivities(ctx context.Context, site SiteRef) (SyncResult, error) {
	account, ok := s.accounts.Account(site.AccountID)
	if !ok {
		return SyncResult{}, fmt.Errorf("syncing activities for %s: %w", site, ErrAccountNotFound)
	}

	s.logger.Debug("fetching activities", "site", site.SiteID)
	remote, err := s.remotes.ActivityRemote(account.Token).GetActivityForSite(ctx, site.SiteID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetching activities for %s: %w", site, err)
	}

	now := s.clock.Now()
	activities := make([]*model.Activity, 0, len(remote))
	for _, r := range remote {
		activities = append(activities, &model.Activity{
			ID:             s.ids.New(),
			SiteID:         site.SiteID,
			ActivityID:     r.ActivityID,
			Type:           r.Type,
			ActionTrigger:  r.ActionTrigger,
			JetpackVersion: r.JetpackVersion,
			Action:         r.Action,
			Group:          r.Group,
			Name:           r.Name,
			Timestamp:      r.Timestamp,
			Actor: model.ActivityActor{
				DisplayName: r.Actor.DisplayName,
				AvatarURL:   r.Actor.AvatarURL,
				Role:        r.Actor.Role,
			},
			Objects:  r.Objects,
			SyncedAt: now,
		})
	}

	inserted, updated, err := s.db.MergeActivities(site.SiteID, activities)
	if err != nil {
		return SyncResult{}, fmt.Errorf("merging activities for %s: %w", site, err)
	}

	result := SyncResult{Fetched: len(remote), Inserted: inserted, Updated: updated}
	s.logger.Info("activities synced", "site", site.SiteID, "fetched", result.Fetched, "inserted", inserted, "updated", updated)
	return result, nil
}

// Activities returns the stored activities of site, newest first.
// limit <= 0 returns all of them.
func (s *ActivityService) Activities(site SiteRef, limit int) ([]*model.Activity, error) {
	activities, err := s.db.ListActivities(site.SiteID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing activities for %s: %w", site, err)
	}
	return activities, nil
}
