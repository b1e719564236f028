package component

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360/watchpost/errors"
)

const (
	maxParamsSize  = 1 << 20
	maxParamsDepth = 10
	maxStringLen   = 64 << 10
)

// Validatable is implemented by parameter structs that check themselves.
type Validatable interface {
	Validate() error
}

// DecodeParams validates raw plugin parameters and decodes them into target.
// Unknown fields are rejected so typos surface at load time. Empty params
// leave target untouched, which is how defaults are expressed.
func DecodeParams(raw json.RawMessage, target any) error {
	if len(raw) > maxParamsSize {
		return errors.WrapInvalid(
			fmt.Errorf("parameters size %d exceeds maximum %d", len(raw), maxParamsSize),
			"Params", "Decode", "size check")
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) != 0 && !bytes.Equal(trimmed, []byte("null")) {
		var generic any
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return errors.WrapInvalid(err, "Params", "Decode", "JSON parsing")
		}
		if err := checkValue(generic, 0); err != nil {
			return errors.WrapInvalid(err, "Params", "Decode", "content check")
		}

		strict := json.NewDecoder(bytes.NewReader(trimmed))
		strict.DisallowUnknownFields()
		if err := strict.Decode(target); err != nil {
			return errors.WrapInvalid(err, "Params", "Decode", "unmarshal")
		}
	}

	if v, ok := target.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return errors.WrapInvalid(err, "Params", "Decode", "validate")
		}
	}
	return nil
}

func checkValue(value any, depth int) error {
	if depth > maxParamsDepth {
		return fmt.Errorf("nesting depth exceeds %d", maxParamsDepth)
	}

	switch val := value.(type) {
	case string:
		return checkString(val)
	case []any:
		for i, elem := range val {
			if err := checkValue(elem, depth+1); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
	case map[string]any:
		for key, elem := range val {
			if err := checkString(key); err != nil {
				return fmt.Errorf("key %q: %w", key, err)
			}
			if err := checkValue(elem, depth+1); err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
		}
	}
	return nil
}

func checkString(s string) error {
	if len(s) > maxStringLen {
		return fmt.Errorf("string length %d exceeds maximum %d", len(s), maxStringLen)
	}
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("string contains null byte")
	}
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return fmt.Errorf("string contains control character 0x%02x", r)
		}
	}
	return nil
}
