package gitmeta

import "errors"

// Sentinel errors shared across stores, fetchers and the API layer.
var (
	// ErrJobNotFound is returned by job stores when no job matches the ID.
	ErrJobNotFound = errors.New("job not found")

	// ErrRawQueryUnsupported is returned by fetchers whose platform has no
	// raw query endpoint.
	ErrRawQueryUnsupported = errors.New("raw queries not supported")
)
