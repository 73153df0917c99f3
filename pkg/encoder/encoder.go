// Package encoder defines interfaces for encoding batch envelopes to object bodies.
package encoder

import "github.com/jittakal/actionstore/pkg/action"

// Encoder serializes a batch envelope into the body of one storage object.
type Encoder interface {
	// Encode returns the serialized envelope.
	Encode(env *action.Envelope) ([]byte, error)

	// Format returns the format this encoder produces.
	Format() action.Format

	// ContentType returns the MIME type stored with the object.
	ContentType() string
}
