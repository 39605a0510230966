// Package jsonutil provides the deterministic, byte-stable JSON serialization
// used as HMAC input for the audit chain, plus small marshal helpers shared by
// the model and store packages.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Canonicalize renders m as a JSON object with keys sorted in ascending
// bytewise (code-point) order, no inter-token whitespace, UTF-8 encoding, and
// no trailing newline. The "hmac" key is always excluded, whether or not the
// caller already removed it, so call sites never have to remember to strip it
// themselves.
//
// Key order is resolved as bytewise ascending using Go's native string `<`
// operator, which is already byte-order for UTF-8 strings. This is one of two
// valid readings of "ascending key order" left open by the source
// specification; it was chosen because it requires no locale table and is
// reproducible without depending on encoding/json's (unexported) map
// iteration behavior.
func Canonicalize(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k == "hmac" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("jsonutil: marshal key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(m[k])
		if err != nil {
			return nil, fmt.Errorf("jsonutil: marshal value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalCompact marshals v with no indentation and HTML-escaping disabled,
// the wire form used for details/files_affected/config_snapshot columns.
func MarshalCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := buf.Bytes()
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return b, nil
}

// UnmarshalMap decodes a TEXT column holding a JSON object into a
// map[string]any. An empty string decodes to a nil map, not an error.
func UnmarshalMap(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// UnmarshalStrings decodes a TEXT column holding a JSON array of strings.
func UnmarshalStrings(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}
