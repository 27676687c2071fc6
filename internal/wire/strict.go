// Package wire implements the framed, ack'd MessageSocket layer and the
// DuplexRPC method multiplexer that runs on top of it.
package wire

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	json "github.com/segmentio/encoding/json"
)

// strictUnmarshal unmarshals data into v with stricter validation than
// encoding/json's default behavior:
//   - rejects duplicate keys that differ only by case (e.g. "id" and "Id")
//   - rejects JSON field names that don't exactly (case-sensitively) match
//     a struct tag
//   - rejects unknown fields entirely
//
// Frames on this socket are addressed by id; a peer that could smuggle a
// same-key-different-case field past a case-insensitive decoder could
// confuse id-based matching in the layer above. strictUnmarshal closes that
// off at the framing boundary instead of relying on every call site to get
// JSON decoding exactly right.
// StrictUnmarshal exposes strictUnmarshal to other packages in this module
// that need the same duplicate-key and unknown-field rejection on inbound
// RPC payloads (host's dispatch layer, in particular).
func StrictUnmarshal(data []byte, v any) error {
	return strictUnmarshal(data, v)
}

func strictUnmarshal(data []byte, v any) error {
	if err := validateNoDuplicateKeys(data); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	if err := validateFieldCase(data, v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("strict unmarshal: %w", err)
	}
	return nil
}

func validateNoDuplicateKeys(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		// Not an object; no duplicate keys are possible.
		return nil
	}
	seen := make(map[string]string)
	for key := range raw {
		lower := strings.ToLower(key)
		if original, ok := seen[lower]; ok && original != key {
			return fmt.Errorf("duplicate key with different case: %q and %q", original, key)
		}
		seen[lower] = key
	}
	for key, val := range raw {
		if err := validateNoDuplicateKeysRecursive(val); err != nil {
			return fmt.Errorf("in field %q: %w", key, err)
		}
	}
	return nil
}

func validateNoDuplicateKeysRecursive(data json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		seen := make(map[string]string)
		for key := range obj {
			lower := strings.ToLower(key)
			if original, ok := seen[lower]; ok && original != key {
				return fmt.Errorf("duplicate key with different case: %q and %q", original, key)
			}
			seen[lower] = key
		}
		for key, val := range obj {
			if err := validateNoDuplicateKeysRecursive(val); err != nil {
				return fmt.Errorf("in field %q: %w", key, err)
			}
		}
		return nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil {
		for i, elem := range arr {
			if err := validateNoDuplicateKeysRecursive(elem); err != nil {
				return fmt.Errorf("in array index %d: %w", i, err)
			}
		}
	}
	return nil
}

func validateFieldCase(data []byte, v any) error {
	expected := extractExpectedFields(v)
	if len(expected) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	for key := range raw {
		if expected[key] {
			continue
		}
		lower := strings.ToLower(key)
		for name := range expected {
			if strings.ToLower(name) == lower {
				return fmt.Errorf("field name case mismatch: got %q, expected %q", key, name)
			}
		}
	}
	return nil
}

func extractExpectedFields(v any) map[string]bool {
	fields := make(map[string]bool)
	t := reflect.TypeOf(v)
	if t == nil {
		return fields
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return fields
	}
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		if idx := strings.Index(tag, ","); idx != -1 {
			tag = tag[:idx]
		}
		if tag != "" {
			fields[tag] = true
		}
	}
	return fields
}
