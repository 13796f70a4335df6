package sync

import "errors"

var (
	// ErrUnrecognizedEntry marks a progress-trail element matching none
	// of the known shapes (attachment, comment, email), or more than one.
	ErrUnrecognizedEntry = errors.New("sync: unrecognized progress trail entry")

	// ErrAuthorUnresolved marks an entry whose author cannot be determined
	// from any of the operator, person, user or sender fields.
	ErrAuthorUnresolved = errors.New("sync: cannot determine entry author")
)
