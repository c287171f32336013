package output

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// maxInlineBytes is the largest byte string kept verbatim; pixel buffers are
// summarised instead.
const maxInlineBytes = 32

// NormalizeJSONValue rewrites a decoded CBOR value so encoding/json accepts
// it: map keys become strings, tags become {"tag", "content"} objects and
// long byte strings are replaced by a length summary.
func NormalizeJSONValue(value any) any {
	switch v := value.(type) {
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = NormalizeJSONValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = NormalizeJSONValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = NormalizeJSONValue(item)
		}
		return out
	case []byte:
		if len(v) > maxInlineBytes {
			return fmt.Sprintf("<%d bytes>", len(v))
		}
		return v
	case cbor.Tag:
		return map[string]any{
			"tag":     v.Number,
			"content": NormalizeJSONValue(v.Content),
		}
	default:
		return v
	}
}
