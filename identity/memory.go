package identity

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type externalKey struct {
	provider string
	id       string
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*Identity
	byEmail    map[string]string
	byExternal map[externalKey]string
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[string]*Identity),
		byEmail:    make(map[string]string),
		byExternal: make(map[externalKey]string),
		now:        time.Now,
	}
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(s.byID[id]), nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(rec), nil
}

func (s *MemoryStore) FindByExternalID(ctx context.Context, provider, externalID string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalKey{provider: provider, id: externalID}]
	if !ok {
		return Identity{}, ErrNotFound
	}
	return cloneIdentity(s.byID[id]), nil
}

func (s *MemoryStore) Create(ctx context.Context, in NewIdentity) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	if err := in.Validate(); err != nil {
		return Identity{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[in.Email]; ok {
		return Identity{}, ErrConflict
	}
	ext := externalKey{provider: in.ExternalProvider, id: in.ExternalID}
	if in.ExternalID != "" {
		if _, ok := s.byExternal[ext]; ok {
			return Identity{}, ErrConflict
		}
	}

	now := s.now().UTC()
	rec := &Identity{
		ID:               ulid.Make().String(),
		Email:            in.Email,
		Name:             in.Name,
		PasswordHash:     in.PasswordHash,
		ExternalProvider: in.ExternalProvider,
		ExternalID:       in.ExternalID,
		AvatarURL:        in.AvatarURL,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.byID[rec.ID] = rec
	s.byEmail[rec.Email] = rec.ID
	if in.ExternalID != "" {
		s.byExternal[ext] = rec.ID
	}

	return cloneIdentity(rec), nil
}

func (s *MemoryStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if hash == "" {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.PasswordHash = hash
	rec.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) LinkExternal(ctx context.Context, id, provider, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if provider == "" || externalID == "" {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	key := externalKey{provider: provider, id: externalID}
	if owner, taken := s.byExternal[key]; taken && owner != id {
		return ErrConflict
	}
	if rec.ExternalID != "" {
		delete(s.byExternal, externalKey{provider: rec.ExternalProvider, id: rec.ExternalID})
	}
	rec.ExternalProvider = provider
	rec.ExternalID = externalID
	rec.UpdatedAt = s.now().UTC()
	s.byExternal[key] = id
	return nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Identity{}, ErrNotFound
	}
	if update.Name != nil {
		rec.Name = *update.Name
	}
	if update.AvatarURL != nil {
		rec.AvatarURL = *update.AvatarURL
	}
	if update.Bio != nil {
		rec.Bio = *update.Bio
	}
	if !update.Empty() {
		rec.UpdatedAt = s.now().UTC()
	}
	return cloneIdentity(rec), nil
}

func (s *MemoryStore) Follow(ctx context.Context, followerID, followeeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if followerID == followeeID {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	follower, ok := s.byID[followerID]
	if !ok {
		return ErrNotFound
	}
	followee, ok := s.byID[followeeID]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(follower.Following, followeeID) {
		follower.Following = append(follower.Following, followeeID)
	}
	if !slices.Contains(followee.Followers, followerID) {
		followee.Followers = append(followee.Followers, followerID)
	}
	return nil
}

func (s *MemoryStore) Unfollow(ctx context.Context, followerID, followeeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	follower, ok := s.byID[followerID]
	if !ok {
		return ErrNotFound
	}
	followee, ok := s.byID[followeeID]
	if !ok {
		return ErrNotFound
	}
	follower.Following = slices.DeleteFunc(follower.Following, func(v string) bool { return v == followeeID })
	followee.Followers = slices.DeleteFunc(followee.Followers, func(v string) bool { return v == followerID })
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func cloneIdentity(rec *Identity) Identity {
	out := *rec
	out.Followers = slices.Clone(rec.Followers)
	out.Following = slices.Clone(rec.Following)
	return out
}
