package crawler

import "errors"

var (
	// ErrFetchTimeout reports that the ready marker never appeared before the
	// deadline. It ends the crawl but keeps the records gathered so far.
	ErrFetchTimeout = errors.New("page ready wait timed out")
	// ErrFieldMissing reports a record container missing a required field.
	ErrFieldMissing = errors.New("record field missing")
	// ErrInvalidNextLink reports a pagination control whose target cannot be resolved.
	ErrInvalidNextLink = errors.New("invalid next link")
)
