package tools

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"sgi/pkg/utils"
)

// Validate parses untrusted model arguments into def's schema. Unknown
// parameters, missing required parameters, type mismatches and values
// outside an enum are all rejected; nothing is executed speculatively.
// Defaults are applied for omitted optional parameters.
func Validate(def ToolDefinition, raw map[string]any) (Args, *CallError) {
	var fields []FieldError
	args := make(Args, len(def.InputSchema.Properties))

	for name, value := range raw {
		prop, ok := def.InputSchema.Properties[name]
		if !ok {
			fields = append(fields, FieldError{Field: name, Message: "unknown parameter"})
			continue
		}
		if value == nil {
			continue
		}
		parsed, err := coerce(&prop, value)
		if err != nil {
			fields = append(fields, FieldError{Field: name, Message: err.Error()})
			continue
		}
		args[name] = parsed
	}

	for _, name := range def.InputSchema.Required {
		if _, ok := args[name]; ok {
			continue
		}
		if hasField(fields, name) {
			continue
		}
		fields = append(fields, FieldError{Field: name, Message: "required parameter missing"})
	}

	if len(fields) > 0 {
		sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
		return nil, &CallError{
			Kind:    KindValidation,
			Tool:    def.Name,
			Message: "invalid arguments",
			Fields:  fields,
		}
	}

	for name, prop := range def.InputSchema.Properties {
		if _, ok := args[name]; !ok && prop.Default != nil {
			args[name] = prop.Default
		}
	}
	return args, nil
}

func hasField(fields []FieldError, name string) bool {
	for _, f := range fields {
		if f.Field == name {
			return true
		}
	}
	return false
}

func coerce(p *Property, v any) (any, error) {
	switch p.Type {
	case "string":
		s, err := asString(v)
		if err != nil {
			return nil, err
		}
		if len(p.Enum) > 0 {
			return matchEnum(p.Enum, s)
		}
		return s, nil

	case "integer":
		f, err := asNumber(v)
		if err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("expected integer, got %v", f)
		}
		return f, checkRange(p, f)

	case "number":
		f, err := asNumber(v)
		if err != nil {
			return nil, err
		}
		return f, checkRange(p, f)

	case "boolean":
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)

	case "array":
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected array, got %T", v)
		}
		if p.Items == nil {
			return items, nil
		}
		out := make([]any, 0, len(items))
		for i, item := range items {
			parsed, err := coerce(p.Items, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out = append(out, parsed)
		}
		return out, nil

	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected object, got %T", v)
		}
		out := make(map[string]any, len(obj))
		for k, val := range obj {
			if p.Properties == nil {
				switch val.(type) {
				case string, float64, bool, nil:
					out[k] = val
				default:
					return nil, fmt.Errorf("key %q: expected scalar value", k)
				}
				continue
			}
			sub, ok := p.Properties[k]
			if !ok {
				return nil, fmt.Errorf("unknown key %q", k)
			}
			parsed, err := coerce(sub, val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = parsed
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported schema type %q", p.Type)
}

func asString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s), nil
	case float64:
		// Models frequently send numeric ids unquoted.
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("expected string, got %T", v)
}

func asNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("expected number, got %q", n)
		}
		return f, nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func checkRange(p *Property, f float64) error {
	if p.Minimum != nil && f < *p.Minimum {
		return fmt.Errorf("must be >= %v", *p.Minimum)
	}
	if p.Maximum != nil && f > *p.Maximum {
		return fmt.Errorf("must be <= %v", *p.Maximum)
	}
	return nil
}

func matchEnum(enum []string, s string) (string, error) {
	folded := utils.Fold(s)
	for _, e := range enum {
		if e == s || utils.Fold(e) == folded {
			return e, nil
		}
	}
	return "", fmt.Errorf("must be one of %s", strings.Join(enum, ", "))
}
