// Package bus defines the task envelope wire contract (spec §6) and a
// permissive-at-the-edge JSON schema validator, plus an in-process
// reference bus implementing the I/O-loop/CPU-pool split spec §5
// describes: one goroutine decodes messages and rejects malformed ones,
// handing each decoded task to its own handler goroutine (which
// acknowledges it when done) rather than blocking the decode loop on
// pair computation.
package bus

import (
	"embed"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema/task_envelope.json
var schemaFS embed.FS

var schemaLoader = mustLoadSchema()

func mustLoadSchema() gojsonschema.JSONLoader {
	b, err := schemaFS.ReadFile("schema/task_envelope.json")
	if err != nil {
		panic(fmt.Sprintf("bus: embedded schema missing: %v", err))
	}

	return gojsonschema.NewBytesLoader(b)
}

// ValidateEnvelope checks raw JSON against the task envelope schema.
// Per spec §9's "permissive JSON reader at the edge" design note, this
// validates only the fields the bus contract requires (task_id,
// language, files[].{id,hash,path,filename}); unknown additional
// fields a producer sends are accepted, not rejected, so the schema
// can evolve without breaking older consumers.
func ValidateEnvelope(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("bus: schema validation error: %w", err)
	}

	if !result.Valid() {
		return &ValidationError{Errors: result.Errors()}
	}

	return nil
}

// ValidationError reports one or more schema violations. A message
// failing validation is rejected without requeue (spec §6: "messages
// rejected without requeue land in the DLQ").
type ValidationError struct {
	Errors []gojsonschema.ResultError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "bus: envelope failed schema validation"
	}

	return fmt.Sprintf("bus: envelope failed schema validation: %s", e.Errors[0].String())
}
