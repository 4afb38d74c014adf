package repository_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/model"
	"github.com/jmerrifield20/captcha/internal/captcha/repository"
)

// challengeStore is the behaviour every adapter must share.
type challengeStore interface {
	Insert(ctx context.Context, ch *model.Challenge) error
	GetByID(ctx context.Context, id string) (*model.Challenge, error)
	ListExpired(ctx context.Context, now time.Time) ([]*model.Challenge, error)
	DeleteByID(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

func challenge(id, code string, expiresIn time.Duration) *model.Challenge {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Challenge{
		ID:        id,
		ImageRef:  strings.ToLower(id) + ".png",
		Code:      code,
		ExpiresAt: now.Add(expiresIn),
		CreatedAt: now,
	}
}

// runStoreContract exercises an empty store. Ids are unique per run so the
// same function can be pointed at shared databases.
func runStoreContract(t *testing.T, store challengeStore, idPrefix string) {
	t.Helper()
	ctx := context.Background()
	id := func(suffix string) string {
		s := idPrefix + suffix
		return s + strings.Repeat("0", repository.IDLength-len(s))
	}

	t.Run("insert and get case-insensitively", func(t *testing.T) {
		ch := challenge(strings.ToUpper(id("a1")), "abC123", time.Hour)
		if err := store.Insert(ctx, ch); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		got, err := store.GetByID(ctx, strings.ToUpper(id("a1")))
		if err != nil {
			t.Fatalf("GetByID upper: %v", err)
		}
		if got.ID != strings.ToLower(id("a1")) {
			t.Errorf("ID: got %q, want lowercased", got.ID)
		}
		if got.Code != "abC123" || got.ImageRef != ch.ImageRef {
			t.Errorf("fields: got %+v", got)
		}
		if !got.ExpiresAt.Equal(ch.ExpiresAt) || !got.CreatedAt.Equal(ch.CreatedAt) {
			t.Errorf("times: got %v/%v, want %v/%v", got.ExpiresAt, got.CreatedAt, ch.ExpiresAt, ch.CreatedAt)
		}
		if _, err := store.GetByID(ctx, id("a1")); err != nil {
			t.Errorf("GetByID lower: %v", err)
		}
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		ch := challenge(id("b1"), "1234", time.Hour)
		if err := store.Insert(ctx, ch); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := store.Insert(ctx, ch); !errors.Is(err, repository.ErrDuplicateID) {
			t.Errorf("expected ErrDuplicateID, got %v", err)
		}
	})

	t.Run("invalid id length rejected", func(t *testing.T) {
		if err := store.Insert(ctx, challenge("short", "1234", time.Hour)); !errors.Is(err, repository.ErrInvalidID) {
			t.Errorf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		if _, err := store.GetByID(ctx, id("zz")); !errors.Is(err, repository.ErrChallengeNotFound) {
			t.Errorf("expected ErrChallengeNotFound, got %v", err)
		}
	})

	t.Run("expiry scan and bulk delete", func(t *testing.T) {
		expired := challenge(id("c1"), "1234", -time.Minute)
		active := challenge(id("c2"), "5678", time.Hour)
		for _, ch := range []*model.Challenge{expired, active} {
			if err := store.Insert(ctx, ch); err != nil {
				t.Fatalf("Insert %s: %v", ch.ID, err)
			}
		}

		now := time.Now()
		list, err := store.ListExpired(ctx, now)
		if err != nil {
			t.Fatalf("ListExpired: %v", err)
		}
		var found bool
		for _, ch := range list {
			if ch.ID == active.ID {
				t.Error("active challenge listed as expired")
			}
			if ch.ID == expired.ID {
				found = true
			}
		}
		if !found {
			t.Error("expired challenge not listed")
		}

		n, err := store.DeleteExpired(ctx, now)
		if err != nil {
			t.Fatalf("DeleteExpired: %v", err)
		}
		if n < 1 {
			t.Errorf("DeleteExpired removed %d rows, want >= 1", n)
		}
		if n, err := store.DeleteExpired(ctx, now); err != nil || n != 0 {
			t.Errorf("second DeleteExpired: n=%d err=%v", n, err)
		}

		if list, _ := store.ListExpired(ctx, now); len(list) != 0 {
			t.Errorf("ListExpired after delete: %d rows", len(list))
		}
		if _, err := store.GetByID(ctx, expired.ID); !errors.Is(err, repository.ErrChallengeNotFound) {
			t.Errorf("expired row still present: %v", err)
		}
		if _, err := store.GetByID(ctx, active.ID); err != nil {
			t.Errorf("active row removed: %v", err)
		}
	})

	t.Run("delete by id is idempotent", func(t *testing.T) {
		ch := challenge(id("d1"), "1234", time.Hour)
		if err := store.Insert(ctx, ch); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if err := store.DeleteByID(ctx, strings.ToUpper(ch.ID)); err != nil {
			t.Fatalf("DeleteByID: %v", err)
		}
		if err := store.DeleteByID(ctx, ch.ID); err != nil {
			t.Errorf("second DeleteByID: %v", err)
		}
		if _, err := store.GetByID(ctx, ch.ID); !errors.Is(err, repository.ErrChallengeNotFound) {
			t.Errorf("expected ErrChallengeNotFound after delete, got %v", err)
		}
	})
}
