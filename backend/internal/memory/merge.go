package memory

import (
	"personalmem/backend/pkg/errors"
)

// ============================================================================
// Merge Engine
// ============================================================================

// ConflictPair declares two field names whose list items are mutually
// exclusive: adding an item to one side evicts its normalized match from
// the other.
type ConflictPair struct {
	A string
	B string
}

// Engine folds batches of proposed updates into a field map. Pure and
// deterministic: no I/O, input fields are never mutated.
type Engine struct {
	opposites map[string][]string
}

// NewEngine creates a merge engine with the given conflict pairs
func NewEngine(pairs []ConflictPair) *Engine {
	opposites := make(map[string][]string)
	for _, pair := range pairs {
		if pair.A == "" || pair.B == "" || pair.A == pair.B {
			continue
		}
		opposites[pair.A] = append(opposites[pair.A], pair.B)
		opposites[pair.B] = append(opposites[pair.B], pair.A)
	}
	return &Engine{opposites: opposites}
}

// MergeResult is the outcome of one batch merge
type MergeResult struct {
	// Fields is the new field map (copy-on-write; the input is untouched)
	Fields map[string]FieldValue
	// Ops records what was applied, in decision order
	Ops []AppliedOp
	// Warnings lists updates skipped as malformed during the merge
	Warnings []Warning
}

// Changed reports whether the batch had any net effect
func (r *MergeResult) Changed() bool {
	return len(r.Ops) > 0
}

// Merge applies updates left-to-right against a copy of current. A field's
// kind (scalar vs list) is fixed by its first write; a kind mismatch aborts
// the whole batch with ErrFieldTypeConflict and no partial application.
func (e *Engine) Merge(current map[string]FieldValue, updates []ProposedUpdate) (*MergeResult, error) {
	result := &MergeResult{
		Fields: make(map[string]FieldValue, len(current)),
	}
	for name, val := range current {
		result.Fields[name] = val.clone()
	}

	for _, update := range updates {
		var err error
		switch update.Op {
		case OpSet:
			err = e.applySet(result, update)
		case OpReplace:
			err = e.applyReplace(result, update)
		case OpRemove:
			e.applyRemove(result, update)
		}
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Engine) applySet(result *MergeResult, update ProposedUpdate) error {
	existing, exists := result.Fields[update.Field]

	if update.Value.Kind == KindScalar {
		if exists && existing.Kind != KindScalar {
			return errors.NewFieldTypeConflict(update.Field, "scalar value proposed for a list field")
		}
		if !exists {
			result.Fields[update.Field] = update.Value.clone()
			result.Ops = append(result.Ops, AppliedOp{
				Field: update.Field, Op: OpSet, Event: EventAdd, Value: update.Value.Scalar,
			})
			return nil
		}
		// Unconditional overwrite, but an equal value (up to normalization)
		// is a no-op so repeated extractions do not churn versions
		if Normalize(existing.Scalar) != Normalize(update.Value.Scalar) {
			result.Fields[update.Field] = update.Value.clone()
			result.Ops = append(result.Ops, AppliedOp{
				Field: update.Field, Op: OpSet, Event: EventUpdate, Value: update.Value.Scalar,
			})
		}
		return nil
	}

	// List-valued SET: append items not already present
	if exists && existing.Kind != KindList {
		return errors.NewFieldTypeConflict(update.Field, "list value proposed for a scalar field")
	}
	if !exists {
		items := dedupItems(update.Value.List)
		result.Fields[update.Field] = ListValue(items)
		result.Ops = append(result.Ops, AppliedOp{
			Field: update.Field, Op: OpSet, Event: EventAdd, Value: items,
		})
		e.resolveConflicts(result, update.Field, items)
		return nil
	}

	present := normSet(existing.List)
	var appended []any
	merged := append([]any(nil), existing.List...)
	for _, item := range update.Value.List {
		norm := Normalize(item)
		if present[norm] {
			continue
		}
		present[norm] = true
		merged = append(merged, item)
		appended = append(appended, item)
	}
	if len(appended) == 0 {
		return nil
	}
	result.Fields[update.Field] = FieldValue{Kind: KindList, List: merged}
	result.Ops = append(result.Ops, AppliedOp{
		Field: update.Field, Op: OpSet, Event: EventUpdate, Value: appended,
	})
	e.resolveConflicts(result, update.Field, appended)
	return nil
}

func (e *Engine) applyReplace(result *MergeResult, update ProposedUpdate) error {
	existing, exists := result.Fields[update.Field]
	if exists && existing.Kind != KindList {
		return errors.NewFieldTypeConflict(update.Field, "list replacement proposed for a scalar field")
	}

	items := dedupItems(update.Value.List)

	if !exists {
		result.Fields[update.Field] = ListValue(items)
		result.Ops = append(result.Ops, AppliedOp{
			Field: update.Field, Op: OpReplace, Event: EventAdd, Value: items,
		})
		e.resolveConflicts(result, update.Field, items)
		return nil
	}

	if normEqual(existing.List, items) {
		// Replacing a list with itself is a no-op; REPLACE is idempotent
		return nil
	}

	previous := normSet(existing.List)
	var added []any
	for _, item := range items {
		if !previous[Normalize(item)] {
			added = append(added, item)
		}
	}

	result.Fields[update.Field] = ListValue(items)
	result.Ops = append(result.Ops, AppliedOp{
		Field: update.Field, Op: OpReplace, Event: EventReplace, Value: items,
	})
	e.resolveConflicts(result, update.Field, added)
	return nil
}

func (e *Engine) applyRemove(result *MergeResult, update ProposedUpdate) {
	existing, exists := result.Fields[update.Field]

	if update.DeleteField {
		if !exists {
			return
		}
		delete(result.Fields, update.Field)
		result.Ops = append(result.Ops, AppliedOp{
			Field: update.Field, Op: OpRemove, Event: EventRemove, Value: existing.Plain(),
		})
		return
	}

	// Item removal from a list field. Absent field and absent items are
	// silent no-ops.
	if !exists {
		return
	}
	if existing.Kind != KindList {
		result.Warnings = append(result.Warnings, Warning{
			Key:    removePrefix + update.Field,
			Reason: "remove list aimed at a scalar field; use boolean true to delete it",
		})
		return
	}

	toRemove := normSet(update.Value.List)
	kept := make([]any, 0, len(existing.List))
	var dropped []any
	for _, item := range existing.List {
		if toRemove[Normalize(item)] {
			dropped = append(dropped, item)
		} else {
			kept = append(kept, item)
		}
	}
	if len(dropped) == 0 {
		return
	}
	// An emptied list stays present as an empty list, not deleted
	result.Fields[update.Field] = FieldValue{Kind: KindList, List: kept}
	result.Ops = append(result.Ops, AppliedOp{
		Field: update.Field, Op: OpRemove, Event: EventRemove, Value: dropped,
	})
}

// resolveConflicts evicts newly added items from the opposite side of any
// declared pair. One pass suffices: a batch update only ever adds an item
// to one side at a time.
func (e *Engine) resolveConflicts(result *MergeResult, field string, added []any) {
	if len(added) == 0 {
		return
	}
	addedNorms := normSet(added)
	for _, opposite := range e.opposites[field] {
		existing, ok := result.Fields[opposite]
		if !ok || existing.Kind != KindList {
			continue
		}
		kept := make([]any, 0, len(existing.List))
		var evicted []any
		for _, item := range existing.List {
			if addedNorms[Normalize(item)] {
				evicted = append(evicted, item)
			} else {
				kept = append(kept, item)
			}
		}
		if len(evicted) == 0 {
			continue
		}
		result.Fields[opposite] = FieldValue{Kind: KindList, List: kept}
		result.Ops = append(result.Ops, AppliedOp{
			Field: opposite, Op: OpRemove, Event: EventRemove, Value: evicted,
		})
	}
}

// dedupItems drops normalized duplicates, first occurrence wins
func dedupItems(items []any) []any {
	seen := make(map[string]bool, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		norm := Normalize(item)
		if seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, item)
	}
	return out
}

func normSet(items []any) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[Normalize(item)] = true
	}
	return set
}

func normEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if Normalize(a[i]) != Normalize(b[i]) {
			return false
		}
	}
	return true
}
