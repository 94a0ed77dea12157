// Package ferr defines the closed set of error kinds shared by every
// layer of the filesystem: a small sentinel table (analogous to
// EINVAL, EBUSY, ENOENT, ...) built on the standard error interface.
package ferr

import "errors"

var (
	ErrNotMounted     = errors.New("not mounted")
	ErrAlreadyMounted = errors.New("already mounted")
	ErrInvalidName    = errors.New("invalid name")
	ErrNotFound       = errors.New("not found")
	ErrExists         = errors.New("already exists")
	ErrWrongType      = errors.New("wrong type")
	ErrNotEmpty       = errors.New("directory not empty")
	ErrBusy           = errors.New("resource busy")
	ErrNoSpace        = errors.New("no space left on device")
	ErrNoInodes       = errors.New("inode table exhausted")
	ErrIO             = errors.New("i/o error")
	ErrCorruption     = errors.New("on-disk structure corrupt")
)

// Code returns the numeric exit/status code associated with an error kind,
// for commands that want a short message plus a numeric code. A nil error
// reports 0; any other error not in the table reports 1.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotMounted):
		return 10
	case errors.Is(err, ErrAlreadyMounted):
		return 11
	case errors.Is(err, ErrInvalidName):
		return 12
	case errors.Is(err, ErrNotFound):
		return 13
	case errors.Is(err, ErrExists):
		return 14
	case errors.Is(err, ErrWrongType):
		return 15
	case errors.Is(err, ErrNotEmpty):
		return 16
	case errors.Is(err, ErrBusy):
		return 17
	case errors.Is(err, ErrNoSpace):
		return 18
	case errors.Is(err, ErrNoInodes):
		return 19
	case errors.Is(err, ErrIO):
		return 20
	case errors.Is(err, ErrCorruption):
		return 21
	default:
		return 1
	}
}
