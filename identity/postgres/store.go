package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/codicle/authcore/identity"
)

// pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectIdentity = `
	SELECT i.id, i.email, i.name, COALESCE(i.password_hash, ''),
	       COALESCE(i.external_provider, ''), COALESCE(i.external_id, ''),
	       i.avatar_url, i.bio, i.created_at, i.updated_at,
	       ARRAY(SELECT f.follower_id FROM identity_follows f WHERE f.followee_id = i.id ORDER BY f.created_at),
	       ARRAY(SELECT f.followee_id FROM identity_follows f WHERE f.follower_id = i.id ORDER BY f.created_at)
	FROM identities i`

// Store implements identity.Store on PostgreSQL.
type Store struct {
	pool pool
}

var _ identity.Store = (*Store)(nil)

// NewStore creates a Store over a pgx pool.
func NewStore(p pool) *Store {
	return &Store{pool: p}
}

// FindByEmail retrieves an identity by exact email.
func (s *Store) FindByEmail(ctx context.Context, email string) (identity.Identity, error) {
	rec, err := scanIdentity(s.pool.QueryRow(ctx, selectIdentity+` WHERE i.email = $1`, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Identity{}, oops.Code("IDENTITY_NOT_FOUND").
			With("operation", "find by email").
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return identity.Identity{}, oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", "find by email").
			Wrap(err)
	}
	return rec, nil
}

// FindByID retrieves an identity by id.
func (s *Store) FindByID(ctx context.Context, id string) (identity.Identity, error) {
	rec, err := scanIdentity(s.pool.QueryRow(ctx, selectIdentity+` WHERE i.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Identity{}, oops.Code("IDENTITY_NOT_FOUND").
			With("id", id).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return identity.Identity{}, oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", "find by id").
			With("id", id).
			Wrap(err)
	}
	return rec, nil
}

// FindByExternalID retrieves an identity by its provider link.
func (s *Store) FindByExternalID(ctx context.Context, provider, externalID string) (identity.Identity, error) {
	rec, err := scanIdentity(s.pool.QueryRow(ctx,
		selectIdentity+` WHERE i.external_provider = $1 AND i.external_id = $2`, provider, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Identity{}, oops.Code("IDENTITY_NOT_FOUND").
			With("provider", provider).
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return identity.Identity{}, oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", "find by external id").
			With("provider", provider).
			Wrap(err)
	}
	return rec, nil
}

// Create inserts a new identity with a fresh ULID.
func (s *Store) Create(ctx context.Context, in identity.NewIdentity) (identity.Identity, error) {
	if err := in.Validate(); err != nil {
		return identity.Identity{}, oops.Code("IDENTITY_INVALID").
			With("operation", "create identity").
			Wrap(err)
	}

	rec := identity.Identity{
		ID:               ulid.Make().String(),
		Email:            in.Email,
		Name:             in.Name,
		PasswordHash:     in.PasswordHash,
		ExternalProvider: in.ExternalProvider,
		ExternalID:       in.ExternalID,
		AvatarURL:        in.AvatarURL,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO identities (
			id, email, name, password_hash, external_provider, external_id, avatar_url
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
		RETURNING created_at, updated_at
	`,
		rec.ID,
		rec.Email,
		rec.Name,
		rec.PasswordHash,
		rec.ExternalProvider,
		rec.ExternalID,
		rec.AvatarURL,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if isUniqueViolation(err) {
		return identity.Identity{}, oops.Code("IDENTITY_CONFLICT").
			With("operation", "create identity").
			Wrap(identity.ErrConflict)
	}
	if err != nil {
		return identity.Identity{}, oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			Wrap(err)
	}
	return rec, nil
}

// UpdatePasswordHash overwrites the stored hash.
func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if hash == "" {
		return oops.Code("IDENTITY_INVALID").With("operation", "update password").Wrap(identity.ErrInvalid)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE identities SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "update password").
			With("id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(identity.ErrNotFound)
	}
	return nil
}

// LinkExternal attaches a provider id to an existing identity.
func (s *Store) LinkExternal(ctx context.Context, id, provider, externalID string) error {
	if provider == "" || externalID == "" {
		return oops.Code("IDENTITY_INVALID").With("operation", "link external").Wrap(identity.ErrInvalid)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities
		SET external_provider = $2, external_id = $3, updated_at = now()
		WHERE id = $1
	`, id, provider, externalID)
	if isUniqueViolation(err) {
		return oops.Code("IDENTITY_CONFLICT").
			With("operation", "link external").
			With("provider", provider).
			Wrap(identity.ErrConflict)
	}
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "link external").
			With("id", id).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(identity.ErrNotFound)
	}
	return nil
}

// UpdateProfile applies the non-nil fields of update and returns the
// resulting record.
func (s *Store) UpdateProfile(ctx context.Context, id string, update identity.ProfileUpdate) (identity.Identity, error) {
	if !update.Empty() {
		tag, err := s.pool.Exec(ctx, `
			UPDATE identities
			SET name = COALESCE($2, name),
			    avatar_url = COALESCE($3, avatar_url),
			    bio = COALESCE($4, bio),
			    updated_at = now()
			WHERE id = $1
		`, id, update.Name, update.AvatarURL, update.Bio)
		if err != nil {
			return identity.Identity{}, oops.Code("IDENTITY_UPDATE_FAILED").
				With("operation", "update profile").
				With("id", id).
				Wrap(err)
		}
		if tag.RowsAffected() == 0 {
			return identity.Identity{}, oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(identity.ErrNotFound)
		}
	}
	return s.FindByID(ctx, id)
}

// Follow records that followerID follows followeeID. Repeating it is a no-op.
func (s *Store) Follow(ctx context.Context, followerID, followeeID string) error {
	if followerID == followeeID {
		return oops.Code("IDENTITY_INVALID").With("operation", "follow").Wrap(identity.ErrInvalid)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identity_follows (follower_id, followee_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, followerID, followeeID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("operation", "follow").
			Wrap(identity.ErrNotFound)
	}
	if err != nil {
		return oops.Code("IDENTITY_FOLLOW_FAILED").
			With("operation", "follow").
			Wrap(err)
	}
	return nil
}

// Unfollow removes the follow edge if present. Removing a missing edge is
// a no-op, but either identity being unknown is ErrNotFound.
func (s *Store) Unfollow(ctx context.Context, followerID, followeeID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM identity_follows WHERE follower_id = $1 AND followee_id = $2`, followerID, followeeID)
	if err != nil {
		return oops.Code("IDENTITY_FOLLOW_FAILED").
			With("operation", "unfollow").
			Wrap(err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var known bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)
		   AND EXISTS (SELECT 1 FROM identities WHERE id = $2)
	`, followerID, followeeID).Scan(&known)
	if err != nil {
		return oops.Code("IDENTITY_QUERY_FAILED").
			With("operation", "unfollow").
			Wrap(err)
	}
	if !known {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("operation", "unfollow").
			Wrap(identity.ErrNotFound)
	}
	return nil
}

func scanIdentity(row pgx.Row) (identity.Identity, error) {
	var (
		rec                  identity.Identity
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&rec.ID,
		&rec.Email,
		&rec.Name,
		&rec.PasswordHash,
		&rec.ExternalProvider,
		&rec.ExternalID,
		&rec.AvatarURL,
		&rec.Bio,
		&createdAt,
		&updatedAt,
		&rec.Followers,
		&rec.Following,
	)
	if err != nil {
		return identity.Identity{}, err
	}
	rec.CreatedAt = createdAt.UTC()
	rec.UpdatedAt = updatedAt.UTC()
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
