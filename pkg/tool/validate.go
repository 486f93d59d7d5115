package tool

import "fmt"

// validateArgs checks args against a JSON-Schema-shaped parameter map:
// required fields must be present and declared property types must match.
// A nil or non-object schema accepts anything.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	if t, ok := schema["type"].(string); ok && t != "object" {
		return nil
	}

	if required, ok := schema["required"].([]string); ok {
		for _, key := range required {
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required field %q", key)
			}
		}
	} else if required, ok := schema["required"].([]any); ok {
		for _, raw := range required {
			key, ok := raw.(string)
			if !ok {
				continue
			}
			if _, present := args[key]; !present {
				return fmt.Errorf("missing required field %q", key)
			}
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for key, value := range args {
		rawProp, declared := properties[key]
		if !declared {
			return fmt.Errorf("unexpected field %q", key)
		}
		prop, ok := rawProp.(map[string]any)
		if !ok {
			continue
		}
		wantType, ok := prop["type"].(string)
		if !ok {
			continue
		}
		if err := checkType(key, wantType, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(key, wantType string, value any) error {
	if value == nil {
		return nil
	}
	switch wantType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", key, value)
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("field %q: expected number, got %T", key, value)
		}
	case "integer":
		switch v := value.(type) {
		case int, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("field %q: expected integer, got %v", key, v)
			}
		default:
			return fmt.Errorf("field %q: expected integer, got %T", key, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("field %q: expected boolean, got %T", key, value)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("field %q: expected object, got %T", key, value)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("field %q: expected array, got %T", key, value)
		}
	}
	return nil
}
