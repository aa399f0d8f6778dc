package tool

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidateArguments checks args against schema (a tool's InputSchema). An
// empty schema or empty/"null" args are treated as trivially valid — most
// builtin tools accept zero parameters. Grounded on goadesign-goa-ai's use
// of santhosh-tekuri/jsonschema/v6 to validate tool-call payloads before
// dispatch.
func ValidateArguments(schema json.RawMessage, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	if len(args) == 0 || string(args) == "null" {
		args = []byte("{}")
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		// A tool that ships an unparsable schema is a configuration bug,
		// not a caller error; don't block execution on it.
		return nil
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "tool-schema.json"
	if err := compiler.AddResource(resourceName, schemaDoc); err != nil {
		return nil
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil
	}

	var argsDoc any
	if err := json.Unmarshal(args, &argsDoc); err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := compiled.Validate(argsDoc); err != nil {
		return err
	}
	return nil
}
