package services

import (
	"context"
	"errors"
	"time"

	"github.com/lifetrace-ai/lifetrace/pkg/kvstore"
	"github.com/lifetrace-ai/lifetrace/pkg/models"
)

// ContextStore is the slice of the key/value tier the services use for
// per-user session context. Satisfied by kvstore.Store.
type ContextStore interface {
	GetUserContext(ctx context.Context, username string) (*models.UserContext, error)
	SetUserContext(ctx context.Context, uc *models.UserContext) error
}

// resolveLocation picks the timezone for a request: explicit query parameter,
// then the user's stored context, then UTC. A parameter that names an unknown
// zone is a validation error; a stale or unparseable stored zone silently
// falls back to UTC. When the parameter resolves, the stored context is
// refreshed so later calls without one keep the same zone.
func resolveLocation(ctx context.Context, kv ContextStore, username, tz string) (*time.Location, error) {
	if tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, validationf("unknown timezone %q", tz)
		}
		if kv != nil {
			_ = kv.SetUserContext(ctx, &models.UserContext{Username: username, Timezone: tz})
		}
		return loc, nil
	}
	if kv != nil {
		uc, err := kv.GetUserContext(ctx, username)
		if err == nil && uc.Timezone != "" {
			if loc, err := time.LoadLocation(uc.Timezone); err == nil {
				return loc, nil
			}
		} else if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
			return nil, err
		}
	}
	return time.UTC, nil
}

// parseDate validates a YYYY-MM-DD date in the given location.
func parseDate(date string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, validationf("invalid date %q, want YYYY-MM-DD", date)
	}
	return t, nil
}
