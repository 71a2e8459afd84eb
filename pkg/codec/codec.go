// Package codec holds the JSON configuration shared by the registry client,
// the redis cache and the index sink. A Codec is built once at
// startup and handed to each component; it carries no mutable state.
package codec

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Codec encodes and decodes JSON with a frozen json-iterator configuration.
type Codec struct {
	api jsoniter.API
}

// Options tunes a Codec.
type Options struct {
	// DisallowUnknownFields rejects payload fields the target type does not
	// declare. Registry payloads grow new fields, so the default is false.
	DisallowUnknownFields bool
	EscapeHTML            bool
}

// New freezes a configuration. Map keys are always sorted so the same
// document serializes to the same bytes on every rebuild.
func New(opts Options) Codec {
	return Codec{
		api: jsoniter.Config{
			EscapeHTML:             opts.EscapeHTML,
			SortMapKeys:            true,
			ValidateJsonRawMessage: true,
			DisallowUnknownFields:  opts.DisallowUnknownFields,
		}.Froze(),
	}
}

// Default is the configuration used for registry payloads and index documents.
func Default() Codec {
	return New(Options{})
}

// IsZero reports whether c was declared without New.
func (c Codec) IsZero() bool {
	return c.api == nil
}

func (c Codec) Marshal(v interface{}) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c Codec) Unmarshal(data []byte, v interface{}) error {
	return c.api.Unmarshal(data, v)
}

func (c Codec) Decode(r io.Reader, v interface{}) error {
	return c.api.NewDecoder(r).Decode(v)
}

func (c Codec) Encode(w io.Writer, v interface{}) error {
	return c.api.NewEncoder(w).Encode(v)
}
