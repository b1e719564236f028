package config

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/watchpost/errors"
)

//go:embed schema.json
var schemaJSON []byte

var documentSchema = gojsonschema.NewBytesLoader(schemaJSON)

// Schema returns the JSON schema the merged document is checked against.
func Schema() []byte {
	out := make([]byte, len(schemaJSON))
	copy(out, schemaJSON)
	return out
}

// validateSchema checks a decoded document against the embedded schema.
func validateSchema(doc map[string]any) error {
	result, err := gojsonschema.Validate(documentSchema, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.Configuration("Loader", "validateSchema", "schema validation: %v", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return errors.Configuration("Loader", "validateSchema", "document does not match schema: %s",
		strings.Join(msgs, "; "))
}
