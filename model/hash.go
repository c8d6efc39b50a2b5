package model

import (
	"encoding/hex"
	"encoding/json"

	"lukechampine.com/blake3"
)

// contentHash digests the exported Lexical JSON with keys normalized:
// __key stripped recursively (it is freshly minted on every export and
// carries no state) and map keys ordered, which encoding/json already does
// for map[string]any (spec.md §4.3.4).
func contentHash(doc map[string]any) (string, error) {
	normalized := stripKeys(doc)
	data, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func stripKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if k == "__key" {
				continue
			}
			out[k] = stripKeys(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = stripKeys(vv)
		}
		return out
	default:
		return v
	}
}
