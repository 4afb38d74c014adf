package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/model"
)

// MemoryChallengeRepository is an in-memory, thread-safe challenge store.
// It is useful for tests and single-process deployments that can afford
// to lose outstanding challenges on restart.
type MemoryChallengeRepository struct {
	mu   sync.RWMutex
	rows map[string]model.Challenge
}

// NewMemoryChallengeRepository creates an empty MemoryChallengeRepository.
func NewMemoryChallengeRepository() *MemoryChallengeRepository {
	return &MemoryChallengeRepository{rows: make(map[string]model.Challenge)}
}

// Insert stores ch. It fails with ErrDuplicateID if the id is taken.
func (r *MemoryChallengeRepository) Insert(_ context.Context, ch *model.Challenge) error {
	id, err := checkInsertID(ch.ID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; ok {
		return ErrDuplicateID
	}
	cp := *ch
	cp.ID = id
	r.rows[id] = cp
	return nil
}

// GetByID returns a copy of the challenge or ErrChallengeNotFound.
func (r *MemoryChallengeRepository) GetByID(_ context.Context, id string) (*model.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.rows[normalizeID(id)]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return &ch, nil
}

// ListExpired returns every challenge with ExpiresAt <= now, oldest first.
func (r *MemoryChallengeRepository) ListExpired(_ context.Context, now time.Time) ([]*model.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Challenge
	for _, ch := range r.rows {
		if ch.Sweepable(now) {
			cp := ch
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

// DeleteByID removes the challenge if present.
func (r *MemoryChallengeRepository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, normalizeID(id))
	return nil
}

// DeleteExpired removes every challenge with ExpiresAt <= now and returns
// how many were removed.
func (r *MemoryChallengeRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, ch := range r.rows {
		if ch.Sweepable(now) {
			delete(r.rows, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored challenges.
func (r *MemoryChallengeRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// Ping always succeeds.
func (r *MemoryChallengeRepository) Ping(context.Context) error { return nil }
