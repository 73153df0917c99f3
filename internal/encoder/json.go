package encoder

import (
	"encoding/json"
	"fmt"

	"github.com/jittakal/actionstore/pkg/action"
	"github.com/jittakal/actionstore/pkg/encoder"
)

var _ encoder.Encoder = (*JSONEncoder)(nil)

// JSONEncoder writes the envelope as a single JSON document. Compression is
// applied by the uploader, not here.
type JSONEncoder struct{}

// NewJSONEncoder creates a new JSON encoder.
func NewJSONEncoder() *JSONEncoder {
	return &JSONEncoder{}
}

// Encode marshals the envelope.
func (e *JSONEncoder) Encode(env *action.Envelope) ([]byte, error) {
	if env == nil || len(env.Events) == 0 {
		return nil, fmt.Errorf("no events to encode")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Format returns the file format.
func (e *JSONEncoder) Format() action.Format {
	return action.FormatJSON
}

// ContentType returns the MIME type.
func (e *JSONEncoder) ContentType() string {
	return "application/json"
}
