package memo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Params are the named arguments of a memoized operation
type Params map[string]interface{}

// Key derives the cache key for a call. With VaryOn declared the key is the
// prefix followed by sorted "name:value" pairs of those parameters only, with
// each value query-escaped so a ':' inside a value cannot shift the pairs;
// otherwise it is the prefix followed by a SHA-256 of the canonical JSON of
// all parameters. Parameter order never affects the key.
func Key(d Descriptor, params Params) (string, error) {
	prefix := d.prefix()

	if len(d.VaryOn) > 0 {
		names := append([]string(nil), d.VaryOn...)
		sort.Strings(names)

		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, name+":"+url.QueryEscape(formatValue(params[name])))
		}
		return prefix + ":" + strings.Join(parts, ":"), nil
	}

	// encoding/json writes map keys in sorted order
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode parameters for %s: %w", d.Name, err)
	}
	sum := sha256.Sum256(canonical)
	return prefix + ":" + hex.EncodeToString(sum[:]), nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case int, int32, int64, uint, uint32, uint64, float32, float64, bool:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
