package memory

import (
	"reflect"
	"testing"
)

func TestBuildChangeLog(t *testing.T) {
	ops := []AppliedOp{
		{Field: "name", Op: OpSet, Event: EventAdd, Value: "John"},
		{Field: "skills", Op: OpSet, Event: EventUpdate, Value: []any{"Go"}},
		{Field: "likes", Op: OpRemove, Event: EventRemove, Value: []any{"rain"}},
	}

	changes := BuildChangeLog(ops)
	if len(changes) != 3 {
		t.Fatalf("Expected 3 changes, got %d", len(changes))
	}

	want := []Change{
		{Field: "name", Value: "John", Event: EventAdd},
		{Field: "skills", Value: []any{"Go"}, Event: EventUpdate},
		{Field: "likes", Value: []any{"rain"}, Event: EventRemove},
	}
	if !reflect.DeepEqual(changes, want) {
		t.Errorf("Expected %+v, got %+v", want, changes)
	}

	// List values are copies, not aliases of engine output
	ops[1].Value.([]any)[0] = "mutated"
	if changes[1].Value.([]any)[0] != "Go" {
		t.Error("Change log aliases the applied-op list")
	}
}

func TestBuildChangeLog_Empty(t *testing.T) {
	changes := BuildChangeLog(nil)
	if changes == nil || len(changes) != 0 {
		t.Errorf("Expected empty non-nil slice, got %v", changes)
	}
}
