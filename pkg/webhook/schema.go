package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// checkSchema verifies that raw is a loadable JSON Schema.
func checkSchema(raw json.RawMessage) error {
	_, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	return err
}

// validatePayload checks the trigger payload against the route's schema.
func validatePayload(raw json.RawMessage, payload map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(raw),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return fmt.Errorf("payload does not match schema: %s", strings.Join(problems, "; "))
}
