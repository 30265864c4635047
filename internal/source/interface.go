// Package source defines the boundary to the external mail store that holds
// the records this pipeline analyzes. The pipeline only ever reads content
// by record id; producing candidate records is the store's concern.
package source

import "context"

// MessageSource provides read access to record content.
type MessageSource interface {
	// GetContent returns the analyzable text of a record. A missing record
	// is a permanent error; store unavailability is transient.
	GetContent(ctx context.Context, recordID string) (string, error)

	// SourceID identifies the backing store for logging.
	SourceID() string
}
