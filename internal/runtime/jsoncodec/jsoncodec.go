// Package jsoncodec is the single JSON entry point for request bodies,
// response payloads, log extra data and control-bus events.
package jsoncodec

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

var (
	// wire matches encoding/json output byte for byte.
	wire = sonic.ConfigStd
	// text renders log extra data. Map keys are sorted so equal data always
	// renders the same line.
	text = sonic.Config{SortMapKeys: true, NoNullSliceOrMap: true}.Froze()
)

func Marshal(v any) ([]byte, error) { return wire.Marshal(v) }

func Unmarshal(data []byte, v any) error { return wire.Unmarshal(data, v) }

// Encode writes v followed by a newline.
func Encode(w io.Writer, v any) error { return wire.NewEncoder(w).Encode(v) }

func Decode(r io.Reader, v any) error { return wire.NewDecoder(r).Decode(v) }

// Compact renders v as a single-line JSON string for log output. Values that
// cannot be encoded, such as channels and funcs, fall back to their %+v form.
func Compact(v any) string {
	if v == nil {
		return "null"
	}
	data, err := text.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
