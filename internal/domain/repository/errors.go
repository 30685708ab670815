package repository

import "errors"

var (
	// ErrObjectNotFound is returned when an object does not exist in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrStatusNotFound is returned when no status has been recorded for an owner.
	ErrStatusNotFound = errors.New("media status not found")
)
