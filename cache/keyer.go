package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// KeyPrefix prefixes every key produced by DefaultKeyer.
const KeyPrefix = "gen:"

// Keyer derives cache keys from a generation request.
//
// Contract:
// - Determinism: same inputs must produce same key, regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
// - Scope: the key does not include the endpoint, so a response generated
//   by one model answers the same request routed to another.
type Keyer interface {
	// Key generates a cache key from a prompt and its parameters.
	Key(prompt string, params map[string]any) (string, error)
}

// DefaultKeyer generates SHA-256 based cache keys.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key generates a deterministic cache key.
// Format: gen:<hash>
// where hash is the first 32 hex characters of
// SHA-256(normalized prompt, NUL, canonical JSON(params)).
func (k *DefaultKeyer) Key(prompt string, params map[string]any) (string, error) {
	var canonical []byte
	if len(params) == 0 {
		canonical = []byte("{}")
	} else {
		var err error
		canonical, err = canonicalize(params)
		if err != nil {
			return "", fmt.Errorf("cache: failed to canonicalize params: %w", err)
		}
	}

	h := sha256.New()
	h.Write([]byte(NormalizePrompt(prompt)))
	h.Write([]byte{0})
	h.Write(canonical)
	sum := h.Sum(nil)

	return KeyPrefix + hex.EncodeToString(sum[:16]), nil
}

// NormalizePrompt trims the prompt and collapses whitespace runs to one space.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// canonicalize produces a deterministic JSON representation of the input.
// Maps are sorted by key to ensure consistent ordering.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		// encoding/json already sorts typed map keys
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}

// Ensure DefaultKeyer implements Keyer
var _ Keyer = (*DefaultKeyer)(nil)
