// Package fingerprint computes the content hash that decides whether an entity changed.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Generate hashes the normalized attributes.
func Generate(attrs map[string]any) string {
	return GenerateWithExclusions(attrs, nil)
}

// GenerateWithExclusions hashes attrs after normalization, skipping excluded fields.
// Exclusions are dot paths over normalized (lowercased) keys; excluding a parent
// excludes everything beneath it.
func GenerateWithExclusions(attrs map[string]any, exclude map[string]bool) string {
	canonical := Canonical(attrs, exclude)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the exact bytes that are hashed: sorted-key JSON of the
// normalized attributes. A nil map and an empty map are equivalent.
func Canonical(attrs map[string]any, exclude map[string]bool) []byte {
	normalized := normalizers.Attributes(attrs)
	if normalized == nil {
		normalized = map[string]any{}
	}
	pruned := prune(normalized, lowerKeys(exclude), "")

	// encoding/json writes map keys in sorted order
	b, err := json.Marshal(pruned)
	if err != nil {
		// unsupported values (channels, funcs) are not expected in attributes
		return []byte("{}")
	}
	return b
}

// GenerateFromJSON hashes a raw JSON object.
func GenerateFromJSON(data json.RawMessage) (string, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return "", err
	}
	return Generate(m), nil
}

// HasChanged compares two fingerprints. An empty previous value always counts as a change.
func HasChanged(previous, current string) bool {
	return previous == "" || previous != current
}

func prune(m map[string]any, exclude map[string]bool, path string) map[string]any {
	if len(exclude) == 0 {
		return m
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		fieldPath := k
		if path != "" {
			fieldPath = path + "." + k
		}
		if excluded(fieldPath, exclude) {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			v = prune(nested, exclude, fieldPath)
		}
		out[k] = v
	}
	return out
}

func excluded(fieldPath string, exclude map[string]bool) bool {
	if exclude[fieldPath] {
		return true
	}
	for parent := range exclude {
		if strings.HasPrefix(fieldPath, parent+".") {
			return true
		}
	}
	return false
}

func lowerKeys(in map[string]bool) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		if v {
			out[strings.ToLower(strings.TrimSpace(k))] = true
		}
	}
	return out
}
