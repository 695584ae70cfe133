package scenario

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed snapshot.schema.json
var snapshotSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("snapshot.schema.json", strings.NewReader(snapshotSchema)); err != nil {
			schemaErr = fmt.Errorf("add snapshot schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("snapshot.schema.json")
	})
	return compiledSchema, schemaErr
}

// ValidateSchema checks raw snapshot JSON against the embedded JSON schema.
func ValidateSchema(raw []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("decoding scenario: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("scenario schema: %w", err)
	}
	return nil
}
