package memory

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Core Types
// ============================================================================

// Kind is the value kind of a field, fixed on first write
type Kind string

const (
	KindScalar Kind = "scalar"
	KindList   Kind = "list"
)

// FieldValue is a tagged value: either a single scalar (string, number,
// boolean) or an ordered list of scalars. Lists keep insertion order for
// display but membership is decided by normalized equality.
type FieldValue struct {
	Kind   Kind
	Scalar any
	List   []any
}

// ScalarValue builds a scalar FieldValue
func ScalarValue(v any) FieldValue {
	return FieldValue{Kind: KindScalar, Scalar: v}
}

// ListValue builds a list FieldValue from a copy of items
func ListValue(items []any) FieldValue {
	out := make([]any, len(items))
	copy(out, items)
	return FieldValue{Kind: KindList, List: out}
}

// Plain returns the untagged representation used for JSON persistence
// and API responses
func (v FieldValue) Plain() any {
	if v.Kind == KindList {
		out := make([]any, len(v.List))
		copy(out, v.List)
		return out
	}
	return v.Scalar
}

// clone returns an independent copy of the value
func (v FieldValue) clone() FieldValue {
	if v.Kind == KindList {
		return ListValue(v.List)
	}
	return v
}

// FieldValueFrom tags a plain decoded JSON value. Returns false for values
// that are neither scalars nor lists of scalars (nested objects etc).
func FieldValueFrom(raw any) (FieldValue, bool) {
	switch val := raw.(type) {
	case string, float64, bool, int, int64:
		return ScalarValue(val), true
	case []any:
		for _, item := range val {
			if !isScalar(item) {
				return FieldValue{}, false
			}
		}
		return ListValue(val), true
	default:
		return FieldValue{}, false
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, float64, bool, int, int64:
		return true
	}
	return false
}

// Normalize is the canonical comparison form for list membership and scalar
// equality: lowercased, whitespace-trimmed string rendering.
func Normalize(v any) string {
	return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
}

// FactRecord is the persistent unit of state for one user
type FactRecord struct {
	UserID    string                `json:"user_id"`
	Fields    map[string]FieldValue `json:"-"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
	Version   int64                 `json:"version"`
}

// NewFactRecord returns an empty record at version 0, the state a user has
// before their first successful merge
func NewFactRecord(userID string) *FactRecord {
	return &FactRecord{
		UserID: userID,
		Fields: make(map[string]FieldValue),
	}
}

// Clone returns a deep copy of the record
func (r *FactRecord) Clone() *FactRecord {
	out := &FactRecord{
		UserID:    r.UserID,
		Fields:    make(map[string]FieldValue, len(r.Fields)),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}
	for name, val := range r.Fields {
		out.Fields[name] = val.clone()
	}
	return out
}

// PlainFields returns the untagged field map for persistence/API output
func (r *FactRecord) PlainFields() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for name, val := range r.Fields {
		out[name] = val.Plain()
	}
	return out
}

// FieldsFromPlain tags a plain decoded field map. Unrepresentable values
// are dropped; a stored record is trusted not to contain any.
func FieldsFromPlain(plain map[string]any) map[string]FieldValue {
	out := make(map[string]FieldValue, len(plain))
	for name, raw := range plain {
		if val, ok := FieldValueFrom(raw); ok {
			out[name] = val
		}
	}
	return out
}

// ============================================================================
// Proposed Updates
// ============================================================================

// Operator is the intent of a proposed update
type Operator string

const (
	// OpSet is the default: replace a scalar, append-with-dedup to a list
	OpSet Operator = "SET"
	// OpReplace fully overwrites a list field (replace_<field> key)
	OpReplace Operator = "REPLACE"
	// OpRemove drops list items or deletes a field (remove_<field> key)
	OpRemove Operator = "REMOVE"
)

// ProposedUpdate is one parsed field change candidate. The operator-prefix
// string convention is resolved here, at the boundary, never deeper in.
type ProposedUpdate struct {
	Op    Operator
	Field string
	// Value holds the proposed FieldValue for SET/REPLACE, or the items to
	// remove for REMOVE. Unused when DeleteField is set.
	Value FieldValue
	// DeleteField marks a remove_<field>=true whole-field deletion
	DeleteField bool
}

// ChangeEvent classifies an applied change
type ChangeEvent string

const (
	EventAdd     ChangeEvent = "ADD"
	EventUpdate  ChangeEvent = "UPDATE"
	EventReplace ChangeEvent = "REPLACE"
	EventRemove  ChangeEvent = "REMOVE"
)

// AppliedOp is the merge engine's internal record of one applied change,
// in decision order. The change log builder turns these into the external
// Change shape.
type AppliedOp struct {
	Field string
	Op    Operator
	Event ChangeEvent
	// Value is what the event applied: the new scalar, the items appended,
	// the full replacement list, or the items actually removed.
	Value any
}

// Change is the externally reported shape of one applied change
type Change struct {
	Field string      `json:"field"`
	Value any         `json:"value"`
	Event ChangeEvent `json:"event"`
}

// Warning reports a malformed update that was skipped without aborting
// the batch
type Warning struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

const (
	replacePrefix = "replace_"
	removePrefix  = "remove_"
)
