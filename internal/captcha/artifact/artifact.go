// Package artifact stores rendered captcha images.
//
// Two backends are provided: FileStore writes to a local directory that the
// HTTP server can expose directly, and MinioStore writes to an S3-compatible
// bucket. Both treat deletion of a missing artifact as success.
package artifact

import (
	"errors"
	"path"
	"strings"
	"time"
)

// ErrInvalidRef is returned for references that are empty or would escape
// the store's namespace.
var ErrInvalidRef = errors.New("invalid artifact reference")

// Info describes one stored artifact.
type Info struct {
	Ref     string
	ModTime time.Time
}

// cleanRef rejects references that are not a single plain file name.
func cleanRef(ref string) (string, error) {
	if ref == "" || ref != path.Base(ref) || strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return "", ErrInvalidRef
	}
	return ref, nil
}
