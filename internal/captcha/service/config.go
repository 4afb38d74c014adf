package service

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jmerrifield20/captcha/internal/captcha/artifact"
	"github.com/jmerrifield20/captcha/internal/captcha/random"
)

// MaxLifetimeSeconds bounds LifetimeSeconds so expiry arithmetic cannot
// overflow time.Duration.
const MaxLifetimeSeconds = math.MaxInt32

// ErrInvalidConfig is wrapped by every *ConfigError.
var ErrInvalidConfig = errors.New("invalid captcha configuration")

// ConfigError names the construction option that failed validation.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: `%s` %s", ErrInvalidConfig, e.Option, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// Config holds the options CaptchaService is constructed with. Every field
// is required.
type Config struct {
	// LifetimeSeconds is how long a challenge stays solvable.
	LifetimeSeconds int
	// CodeLength is the number of characters in a code, 4 to 10 inclusive.
	CodeLength int
	// ArtifactBasePath is an existing, writable directory for images.
	ArtifactBasePath string
	// ArtifactBaseURL prefixes artifact references in image URLs.
	ArtifactBaseURL string
}

// Validate checks every option and returns all failures joined, or nil.
// It performs no side effects.
func (c Config) Validate() error {
	var errs []error
	switch {
	case c.LifetimeSeconds <= 0:
		errs = append(errs, &ConfigError{Option: "lifetime_seconds", Reason: "must be a positive integer"})
	case c.LifetimeSeconds > MaxLifetimeSeconds:
		errs = append(errs, &ConfigError{
			Option: "lifetime_seconds",
			Reason: fmt.Sprintf("must not exceed %d", MaxLifetimeSeconds),
		})
	}
	if c.CodeLength < random.MinCodeLength || c.CodeLength > random.MaxCodeLength {
		errs = append(errs, &ConfigError{
			Option: "code_length",
			Reason: fmt.Sprintf("must be an integer from %d to %d inclusive", random.MinCodeLength, random.MaxCodeLength),
		})
	}
	if err := artifact.CheckWritableDir(c.ArtifactBasePath); err != nil {
		errs = append(errs, &ConfigError{
			Option: "artifact_base_path",
			Reason: "must be an existing writable directory: " + err.Error(),
		})
	}
	if !strings.HasPrefix(c.ArtifactBaseURL, "http://") && !strings.HasPrefix(c.ArtifactBaseURL, "https://") {
		errs = append(errs, &ConfigError{Option: "artifact_base_url", Reason: "must start with http:// or https://"})
	}
	return errors.Join(errs...)
}
