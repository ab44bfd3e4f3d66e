package authcore

import (
	"context"
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rec := seedLocalIdentity(t, env, "a@x.com", "Ann", "pw")

	got, err := env.engine.UpdateProfile(ctx, rec.ID, ProfileUpdate{Name: strPtr("  Annie "), Bio: strPtr("hello")})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if got.Name != "Annie" || got.Bio != "hello" || got.AvatarURL != "" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	ev := env.nextEvent(t, auditEventProfileUpdate)
	if !ev.Success || ev.Metadata["fields"] != "name,bio" {
		t.Fatalf("unexpected audit event: %+v", ev)
	}
}

func TestUpdateProfileRejectsBlankName(t *testing.T) {
	env := newTestEnv(t)
	rec := seedLocalIdentity(t, env, "a@x.com", "Ann", "pw")

	if _, err := env.engine.UpdateProfile(context.Background(), rec.ID, ProfileUpdate{Name: strPtr("  ")}); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
}

func TestUpdateProfileUnknownID(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.UpdateProfile(context.Background(), "missing", ProfileUpdate{Bio: strPtr("x")}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestFollowUnfollow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := seedLocalIdentity(t, env, "a@x.com", "Ann", "pw")
	b := seedLocalIdentity(t, env, "b@x.com", "Bo", "pw")

	if err := env.engine.Follow(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("Follow failed: %v", err)
	}
	if err := env.engine.Follow(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("repeated Follow failed: %v", err)
	}

	gotA, _ := env.engine.Identity(ctx, a.ID)
	gotB, _ := env.engine.Identity(ctx, b.ID)
	if len(gotA.Following) != 1 || gotA.Following[0] != b.ID || len(gotB.Followers) != 1 {
		t.Fatalf("unexpected graph: a=%v b=%v", gotA.Following, gotB.Followers)
	}

	if err := env.engine.Unfollow(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("Unfollow failed: %v", err)
	}
	gotA, _ = env.engine.Identity(ctx, a.ID)
	if len(gotA.Following) != 0 {
		t.Fatalf("expected edge removed, got %v", gotA.Following)
	}

	if err := env.engine.Follow(ctx, a.ID, a.ID); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected self-follow rejected, got %v", err)
	}
	if err := env.engine.Follow(ctx, a.ID, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestIdentityLookup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.Identity(ctx, ""); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected ErrMissingFields, got %v", err)
	}
	if _, err := env.engine.Identity(ctx, "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
