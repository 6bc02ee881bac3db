package hubcache

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedIdentifier is returned when a repository identifier does
	// not follow the owner/name convention.
	ErrMalformedIdentifier = errors.New("malformed repository identifier")

	// ErrNotARepo is returned when a directory name does not follow the
	// models--owner--name / datasets--owner--name convention.
	ErrNotARepo = errors.New("not a repository directory")

	// ErrNotACommit is returned when a ref value is rejected because it is
	// not a resolved commit hash.
	ErrNotACommit = errors.New("ref value is not a commit hash")
)

// AccessError reports a filesystem location the caller required but could
// not read. It is fatal for the specific call that raised it; cache-wide
// scans convert per-repository access errors into degraded fingerprints
// instead of failing.
type AccessError struct {
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("access %s: %v", e.Path, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// IsAccess reports whether err is (or wraps) an AccessError.
func IsAccess(err error) bool {
	var ae *AccessError
	return errors.As(err, &ae)
}
