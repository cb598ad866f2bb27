package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ============================================================================
// Update Parsing
// ============================================================================

// ParseUpdatesJSON parses a raw JSON object of proposed field updates,
// preserving the document's key order. This is the path extraction output
// takes: within one batch, updates apply in the order the collaborator
// emitted them.
func ParseUpdatesJSON(raw []byte) ([]ProposedUpdate, []Warning, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid updates payload: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("updates payload must be a JSON object")
	}

	var updates []ProposedUpdate
	var warnings []Warning
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid updates payload: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("updates payload has a non-string key")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("invalid value for key %q: %w", key, err)
		}

		if update, warn := parseOne(key, value); warn != nil {
			warnings = append(warnings, *warn)
		} else {
			updates = append(updates, update)
		}
	}

	return updates, warnings, nil
}

// ParseUpdates parses a plain field map. Go maps have no stable iteration
// order, so keys are sorted for deterministic application; callers that
// care about intra-batch ordering use ParseUpdatesJSON.
func ParseUpdates(fields map[string]any) ([]ProposedUpdate, []Warning) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var updates []ProposedUpdate
	var warnings []Warning
	for _, key := range keys {
		if update, warn := parseOne(key, fields[key]); warn != nil {
			warnings = append(warnings, *warn)
		} else {
			updates = append(updates, update)
		}
	}
	return updates, warnings
}

// parseOne resolves the operator-prefix convention for a single key and
// validates the value shape. A nil warning means the update is usable.
func parseOne(key string, value any) (ProposedUpdate, *Warning) {
	switch {
	case strings.HasPrefix(key, removePrefix):
		field := key[len(removePrefix):]
		if field == "" {
			return ProposedUpdate{}, &Warning{Key: key, Reason: "remove prefix with empty field name"}
		}
		switch val := value.(type) {
		case bool:
			if !val {
				return ProposedUpdate{}, &Warning{Key: key, Reason: "remove with boolean false has no meaning"}
			}
			return ProposedUpdate{Op: OpRemove, Field: field, DeleteField: true}, nil
		case []any:
			items, ok := FieldValueFrom(val)
			if !ok {
				return ProposedUpdate{}, &Warning{Key: key, Reason: "remove list must contain only scalar items"}
			}
			return ProposedUpdate{Op: OpRemove, Field: field, Value: items}, nil
		default:
			return ProposedUpdate{}, &Warning{Key: key, Reason: "remove value must be a list of items or boolean true"}
		}

	case strings.HasPrefix(key, replacePrefix):
		field := key[len(replacePrefix):]
		if field == "" {
			return ProposedUpdate{}, &Warning{Key: key, Reason: "replace prefix with empty field name"}
		}
		list, ok := value.([]any)
		if !ok {
			return ProposedUpdate{}, &Warning{Key: key, Reason: "replace value must be a list"}
		}
		items, ok := FieldValueFrom(list)
		if !ok {
			return ProposedUpdate{}, &Warning{Key: key, Reason: "replace list must contain only scalar items"}
		}
		return ProposedUpdate{Op: OpReplace, Field: field, Value: items}, nil

	default:
		val, ok := FieldValueFrom(value)
		if !ok {
			return ProposedUpdate{}, &Warning{Key: key, Reason: "value must be a scalar or a list of scalars"}
		}
		return ProposedUpdate{Op: OpSet, Field: key, Value: val}, nil
	}
}
