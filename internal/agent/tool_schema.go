package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects the JSON schema of the argument struct T. Fields are
// required unless tagged omitempty; unknown properties are rejected.
func SchemaFor[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(new(T))
	schema.Version = ""
	schema.ID = ""
	out, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return out, nil
}

// DefineTool builds a descriptor whose parameters are reflected from T and
// whose arguments are decoded into T before fn runs.
func DefineTool[T any](name, description, permission string, fn func(ctx context.Context, args T) (string, error)) (ToolDescriptor, error) {
	params, err := SchemaFor[T]()
	if err != nil {
		return ToolDescriptor{}, fmt.Errorf("tool %s: %w", name, err)
	}
	return ToolDescriptor{
		Name:        name,
		Description: description,
		Parameters:  params,
		Permission:  permission,
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args T
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("decode arguments: %w", err)
			}
			return fn(ctx, args)
		},
	}, nil
}
