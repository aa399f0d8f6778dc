package tool

import (
	"encoding/json"
	"testing"
)

func TestValidateArguments_EmptySchemaAlwaysValid(t *testing.T) {
	if err := ValidateArguments(nil, json.RawMessage(`{"anything":1}`)); err != nil {
		t.Errorf("expected no error for empty schema, got %v", err)
	}
}

func TestValidateArguments_RejectsMissingRequiredField(t *testing.T) {
	schema := BuildSchema(SchemaParam{Name: "path", Type: "string", Required: true})
	err := ValidateArguments(schema, json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestValidateArguments_AcceptsValidArguments(t *testing.T) {
	schema := BuildSchema(SchemaParam{Name: "path", Type: "string", Required: true})
	err := ValidateArguments(schema, json.RawMessage(`{"path":"a.go"}`))
	if err != nil {
		t.Errorf("expected valid arguments to pass, got %v", err)
	}
}

func TestValidateArguments_EmptyArgsTreatedAsEmptyObject(t *testing.T) {
	schema := BuildSchema()
	if err := ValidateArguments(schema, nil); err != nil {
		t.Errorf("expected no error for nil args against a schema with no required fields, got %v", err)
	}
}
