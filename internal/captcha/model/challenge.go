package model

import "time"

// Challenge is one issued captcha: the code a human must read back, the
// rendered image that shows it, and the window in which it may be solved.
type Challenge struct {
	ID        string    `json:"id"`
	ImageRef  string    `json:"image_ref"`
	Code      string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the challenge can no longer be solved at now.
// Verification treats the exact expiry instant as still active; sweeps
// treat it as expired.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Sweepable reports whether a sweep at now should purge the challenge.
func (c *Challenge) Sweepable(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
