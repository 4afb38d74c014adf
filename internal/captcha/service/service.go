// Package service implements the captcha challenge lifecycle: issuing,
// verifying, deleting and expiring challenges.
package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/jmerrifield20/captcha/internal/captcha/artifact"
	"github.com/jmerrifield20/captcha/internal/captcha/model"
	"github.com/jmerrifield20/captcha/internal/captcha/random"
	"github.com/jmerrifield20/captcha/internal/captcha/repository"
	"go.uber.org/zap"
)

// idLength is the length of every issued challenge identifier.
const idLength = 32

// Collaborator failures. They are wrapped into the error returned next to
// an internal_error Result and are never retried here.
var (
	ErrStorage = errors.New("captcha storage failure")
	ErrRender  = errors.New("captcha render failure")
)

// ChallengeStore persists challenge metadata.
// The repository package provides Postgres, MySQL, Redis and in-memory
// implementations.
type ChallengeStore interface {
	// Insert fails with repository.ErrDuplicateID if the id exists.
	Insert(ctx context.Context, ch *model.Challenge) error
	// GetByID matches ids case-insensitively and returns
	// repository.ErrChallengeNotFound when there is no row.
	GetByID(ctx context.Context, id string) (*model.Challenge, error)
	// ListExpired returns all rows with ExpiresAt <= now.
	ListExpired(ctx context.Context, now time.Time) ([]*model.Challenge, error)
	// DeleteByID is idempotent.
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired removes all rows with ExpiresAt <= now in one operation.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// ArtifactStore saves and deletes rendered images. Delete of a missing
// artifact must succeed.
type ArtifactStore interface {
	Save(ctx context.Context, ref string, data []byte) error
	Delete(ctx context.Context, ref string) error
}

// ArtifactLister is implemented by artifact stores that can enumerate their
// contents. Reconcile is a no-op for stores that cannot.
type ArtifactLister interface {
	List(ctx context.Context) ([]artifact.Info, error)
}

// ImageRenderer turns a code into image bytes and a storage-relative name.
type ImageRenderer interface {
	Render(id, code string) (data []byte, ref string, err error)
}

// IDSource produces hex identifiers of the requested length.
type IDSource interface {
	Generate(length int) string
}

// CodeSource produces challenge codes of the requested length.
type CodeSource interface {
	Generate(length int) (string, error)
}

// Recorder receives lifecycle counts, typically for metrics.
type Recorder interface {
	ChallengeCreated()
	ChallengeVerified(outcome string)
	ChallengesSwept(n int64)
	OrphansRemoved(n int)
}

type nopRecorder struct{}

func (nopRecorder) ChallengeCreated() {}
func (nopRecorder) ChallengeVerified(string) {}
func (nopRecorder) ChallengesSwept(int64) {}
func (nopRecorder) OrphansRemoved(int) {}

// Deps are the collaborators of a CaptchaService. Store, Artifacts and
// Renderer are required; the rest have defaults.
type Deps struct {
	Store     ChallengeStore
	Artifacts ArtifactStore
	Renderer  ImageRenderer
	IDs       IDSource
	Codes     CodeSource
	Now       func() time.Time
	Recorder  Recorder
	Logger    *zap.Logger
}

// CaptchaService orchestrates the challenge lifecycle. It holds no mutable
// state beyond its configuration and is safe for concurrent use.
type CaptchaService struct {
	cfg      Config
	lifetime time.Duration
	baseURL  string

	store     ChallengeStore
	artifacts ArtifactStore
	renderer  ImageRenderer
	ids       IDSource
	codes     CodeSource
	now       func() time.Time
	rec       Recorder
	logger    *zap.Logger
}

// New validates cfg and deps and returns a ready CaptchaService. Nothing is
// touched unless every check passes.
func New(cfg Config, deps Deps) (*CaptchaService, error) {
	var errs []error
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if deps.Store == nil {
		errs = append(errs, &ConfigError{Option: "store", Reason: "is required"})
	}
	if deps.Artifacts == nil {
		errs = append(errs, &ConfigError{Option: "artifacts", Reason: "is required"})
	}
	if deps.Renderer == nil {
		errs = append(errs, &ConfigError{Option: "renderer", Reason: "is required"})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if deps.IDs == nil {
		deps.IDs = random.NewIDGenerator(nil)
	}
	if deps.Codes == nil {
		deps.Codes = random.NewCodeGenerator(nil)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &CaptchaService{
		cfg:       cfg,
		lifetime:  time.Duration(cfg.LifetimeSeconds) * time.Second,
		baseURL:   strings.TrimRight(cfg.ArtifactBaseURL, "/"),
		store:     deps.Store,
		artifacts: deps.Artifacts,
		renderer:  deps.Renderer,
		ids:       deps.IDs,
		codes:     deps.Codes,
		now:       deps.Now,
		rec:       deps.Recorder,
		logger:    deps.Logger,
	}, nil
}

// Config returns the validated configuration.
func (s *CaptchaService) Config() Config { return s.cfg }

// Create issues a new challenge: it renders the code, saves the image and
// then inserts the metadata row. A failed insert leaves an orphaned image
// behind for Reconcile to collect.
func (s *CaptchaService) Create(ctx context.Context) (Result, error) {
	id := s.ids.Generate(idLength)
	code, err := s.codes.Generate(s.cfg.CodeLength)
	if err != nil {
		return internalFailure(), fmt.Errorf("generate code: %w", err)
	}

	data, ref, err := s.renderer.Render(id, code)
	if err != nil {
		return internalFailure(), fmt.Errorf("%w: %w", ErrRender, err)
	}
	if err := s.artifacts.Save(ctx, ref, data); err != nil {
		return internalFailure(), fmt.Errorf("%w: save artifact: %w", ErrStorage, err)
	}

	now := s.now().UTC()
	ch := &model.Challenge{
		ID:        id,
		ImageRef:  ref,
		Code:      code,
		ExpiresAt: now.Add(s.lifetime),
		CreatedAt: now,
	}
	if err := s.store.Insert(ctx, ch); err != nil {
		return internalFailure(), fmt.Errorf("%w: insert challenge: %w", ErrStorage, err)
	}

	s.rec.ChallengeCreated()
	s.logger.Info("captcha created",
		zap.String("id", id),
		zap.String("image_ref", ref),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return success(CreateData{ID: id, ImageURL: s.baseURL + "/" + ref}), nil
}

// Verify checks code against the challenge identified by id. Rules apply
// in order and the first that matches decides the result: empty id, empty
// code, unknown id, wrong code, expired. A wrong code on an expired
// challenge therefore reports invalid_code.
//
// Verification never mutates the challenge; a solved code keeps verifying
// until it expires or is deleted.
func (s *CaptchaService) Verify(ctx context.Context, id, code string) (Result, error) {
	id = strings.TrimSpace(id)
	code = strings.TrimSpace(code)

	if id == "" {
		return s.verified(failure(TypeIDRequired, "id could not be empty")), nil
	}
	if code == "" {
		return s.verified(failure(TypeCodeRequired, "code could not be empty")), nil
	}

	ch, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return s.verified(failure(TypeNotFound, "captcha not found")), nil
		}
		return internalFailure(), fmt.Errorf("%w: get challenge: %w", ErrStorage, err)
	}

	if !strings.EqualFold(code, ch.Code) {
		return s.verified(failure(TypeInvalidCode, "invalid captcha code")), nil
	}
	if ch.Expired(s.now()) {
		return s.verified(failure(TypeExpired, "captcha has expired")), nil
	}
	return s.verified(success(nil)), nil
}

func (s *CaptchaService) verified(r Result) Result {
	outcome := r.Type
	if r.OK() {
		outcome = StatusSuccess
	}
	s.rec.ChallengeVerified(outcome)
	return r
}

// Delete removes one challenge and its image, typically after the caller
// has consumed a successful verification. Deleting an unknown id succeeds.
func (s *CaptchaService) Delete(ctx context.Context, id string) (Result, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return failure(TypeIDRequired, "id could not be empty"), nil
	}

	ch, err := s.store.GetByID(ctx, id)
	switch {
	case errors.Is(err, repository.ErrChallengeNotFound):
		return success(nil), nil
	case err != nil:
		return internalFailure(), fmt.Errorf("%w: get challenge: %w", ErrStorage, err)
	}

	s.deleteArtifact(ctx, ch.ID, ch.ImageRef)
	if err := s.store.DeleteByID(ctx, ch.ID); err != nil {
		return internalFailure(), fmt.Errorf("%w: delete challenge: %w", ErrStorage, err)
	}
	s.logger.Info("captcha deleted", zap.String("id", ch.ID))
	return success(nil), nil
}

// Sweep purges every challenge whose expiry is at or before now. Images
// are removed first on a best-effort basis; the bulk metadata delete is
// authoritative.
func (s *CaptchaService) Sweep(ctx context.Context) (Result, error) {
	now := s.now()
	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return internalFailure(), fmt.Errorf("%w: list expired: %w", ErrStorage, err)
	}

	for _, ch := range expired {
		s.deleteArtifact(ctx, ch.ID, ch.ImageRef)
	}

	n, err := s.store.DeleteExpired(ctx, now)
	if err != nil {
		return internalFailure(), fmt.Errorf("%w: delete expired: %w", ErrStorage, err)
	}

	s.rec.ChallengesSwept(n)
	if n > 0 {
		s.logger.Info("swept expired captchas",
			zap.Int64("count", n),
			zap.Int("artifacts", len(expired)),
		)
	}
	return success(nil), nil
}

// Reconcile deletes images that have no matching challenge row, such as
// those left behind when an insert failed after the image was saved.
// Images younger than one lifetime are skipped so an in-flight Create is
// never raced.
func (s *CaptchaService) Reconcile(ctx context.Context) (Result, error) {
	lister, ok := s.artifacts.(ArtifactLister)
	if !ok {
		return success(ReconcileData{}), nil
	}

	infos, err := lister.List(ctx)
	if err != nil {
		return internalFailure(), fmt.Errorf("%w: list artifacts: %w", ErrStorage, err)
	}

	cutoff := s.now().Add(-s.lifetime)
	removed := 0
	for _, info := range infos {
		if info.ModTime.After(cutoff) {
			continue
		}
		id := strings.TrimSuffix(info.Ref, path.Ext(info.Ref))
		if len(id) != idLength {
			continue
		}
		_, err := s.store.GetByID(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrChallengeNotFound) {
			return internalFailure(), fmt.Errorf("%w: get challenge: %w", ErrStorage, err)
		}
		if err := s.artifacts.Delete(ctx, info.Ref); err != nil {
			s.logger.Warn("remove orphaned captcha image",
				zap.String("image_ref", info.Ref),
				zap.Error(err),
			)
			continue
		}
		removed++
	}

	s.rec.OrphansRemoved(removed)
	if removed > 0 {
		s.logger.Info("removed orphaned captcha images", zap.Int("count", removed))
	}
	return success(ReconcileData{Removed: removed}), nil
}

func (s *CaptchaService) deleteArtifact(ctx context.Context, id, ref string) {
	if ref == "" {
		return
	}
	if err := s.artifacts.Delete(ctx, ref); err != nil {
		s.logger.Warn("remove captcha image",
			zap.String("id", id),
			zap.String("image_ref", ref),
			zap.Error(err),
		)
	}
}
