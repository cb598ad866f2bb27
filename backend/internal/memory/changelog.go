package memory

// ============================================================================
// Change Log Builder
// ============================================================================

// BuildChangeLog converts the merge engine's applied-op records into the
// externally reported change shape. Pure formatting: order is preserved and
// list values are copied so callers cannot alias engine output.
func BuildChangeLog(ops []AppliedOp) []Change {
	changes := make([]Change, 0, len(ops))
	for _, op := range ops {
		changes = append(changes, Change{
			Field: op.Field,
			Value: copyChangeValue(op.Value),
			Event: op.Event,
		})
	}
	return changes
}

func copyChangeValue(value any) any {
	if list, ok := value.([]any); ok {
		out := make([]any, len(list))
		copy(out, list)
		return out
	}
	return value
}
