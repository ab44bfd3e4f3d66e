package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/codicle/authcore/identity"
)

// UpdateProfile applies update to the identity with the given id and
// returns the stored result. Names are trimmed and cannot be set empty.
func (e *Engine) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (identity.Identity, error) {
	if e == nil || e.identities == nil {
		return identity.Identity{}, ErrEngineNotReady
	}
	if strings.TrimSpace(id) == "" {
		return identity.Identity{}, ErrMissingFields
	}
	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return identity.Identity{}, ErrMissingFields
		}
		update.Name = &name
	}

	rec, err := e.identities.UpdateProfile(ctx, id, update)
	if err != nil {
		err = mapIdentityError(err)
		e.emitAudit(ctx, auditEventProfileUpdate, false, id, err, nil)
		return identity.Identity{}, err
	}

	e.metricInc(MetricProfileUpdated)
	e.emitAudit(ctx, auditEventProfileUpdate, true, id, nil, func() map[string]string {
		fields := make([]string, 0, 3)
		if update.Name != nil {
			fields = append(fields, "name")
		}
		if update.AvatarURL != nil {
			fields = append(fields, "avatar_url")
		}
		if update.Bio != nil {
			fields = append(fields, "bio")
		}
		return map[string]string{"fields": strings.Join(fields, ",")}
	})
	return rec, nil
}

// Follow records that followerID follows followeeID. Following twice is a
// no-op; following oneself fails with ErrMissingFields.
func (e *Engine) Follow(ctx context.Context, followerID, followeeID string) error {
	return e.changeFollow(ctx, auditEventFollow, followerID, followeeID, func(ctx context.Context) error {
		return e.identities.Follow(ctx, followerID, followeeID)
	})
}

// Unfollow removes a follow edge. Removing an absent edge is a no-op.
func (e *Engine) Unfollow(ctx context.Context, followerID, followeeID string) error {
	return e.changeFollow(ctx, auditEventUnfollow, followerID, followeeID, func(ctx context.Context) error {
		return e.identities.Unfollow(ctx, followerID, followeeID)
	})
}

func (e *Engine) changeFollow(ctx context.Context, event, followerID, followeeID string, apply func(context.Context) error) error {
	if e == nil || e.identities == nil {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(followerID) == "" || strings.TrimSpace(followeeID) == "" || followerID == followeeID {
		return ErrMissingFields
	}

	if err := apply(ctx); err != nil {
		err = mapIdentityError(err)
		e.emitAudit(ctx, event, false, followerID, err, nil)
		return err
	}

	e.metricInc(MetricProfileUpdated)
	e.emitAudit(ctx, event, true, followerID, nil, func() map[string]string {
		return map[string]string{"followee": followeeID}
	})
	return nil
}

func mapIdentityError(err error) error {
	switch {
	case errors.Is(err, identity.ErrNotFound):
		return ErrUserNotFound
	case errors.Is(err, identity.ErrInvalid):
		return errors.Join(ErrMissingFields, err)
	default:
		return errors.Join(ErrStoreUnavailable, err)
	}
}
