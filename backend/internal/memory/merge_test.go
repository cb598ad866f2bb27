package memory

import (
	stderrors "errors"
	"reflect"
	"testing"

	"personalmem/backend/pkg/errors"
)

func testEngine() *Engine {
	return NewEngine([]ConflictPair{{A: "likes", B: "dislikes"}})
}

func scalarField(v any) FieldValue { return ScalarValue(v) }

func listField(items ...any) FieldValue { return ListValue(items) }

func TestMerge_ScalarUpdate(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"age": scalarField(float64(28))}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "age", Value: scalarField(float64(29))},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if got := result.Fields["age"].Scalar; got != float64(29) {
		t.Errorf("Expected age 29, got %v", got)
	}
	if len(result.Ops) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(result.Ops))
	}
	op := result.Ops[0]
	if op.Field != "age" || op.Event != EventUpdate || op.Value != float64(29) {
		t.Errorf("Unexpected change record: %+v", op)
	}
}

func TestMerge_ScalarSet_NewField(t *testing.T) {
	engine := testEngine()

	result, err := engine.Merge(nil, []ProposedUpdate{
		{Op: OpSet, Field: "name", Value: scalarField("John")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(result.Ops) != 1 || result.Ops[0].Event != EventAdd {
		t.Errorf("Expected a single ADD, got %+v", result.Ops)
	}
	if result.Fields["name"].Scalar != "John" {
		t.Errorf("Expected name John, got %v", result.Fields["name"].Scalar)
	}
}

func TestMerge_ScalarSet_SameValueIsNoOp(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"company": scalarField("Google")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "company", Value: scalarField("  google ")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Changed() {
		t.Errorf("Expected no-op for normalized-equal scalar, got %+v", result.Ops)
	}
}

func TestMerge_ListAppendDedup(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"likes": listField("pizza")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "likes", Value: listField("Pizza")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Changed() {
		t.Errorf("Expected case-different duplicate to be a no-op, got %+v", result.Ops)
	}
	if got := result.Fields["likes"].List; len(got) != 1 || got[0] != "pizza" {
		t.Errorf("Expected likes == [pizza], got %v", got)
	}
}

func TestMerge_ListAppend_ChangeListsOnlyNewItems(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"skills": listField("Python", "Java")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "skills", Value: listField("React")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	want := []any{"Python", "Java", "React"}
	if got := result.Fields["skills"].List; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected skills %v, got %v", want, got)
	}
	if len(result.Ops) != 1 {
		t.Fatalf("Expected 1 change, got %d", len(result.Ops))
	}
	op := result.Ops[0]
	if op.Event != EventUpdate || !reflect.DeepEqual(op.Value, []any{"React"}) {
		t.Errorf("Expected UPDATE with only the new item, got %+v", op)
	}
}

func TestMerge_RemoveItem(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"skills": listField("Python", "Java", "React")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpRemove, Field: "skills", Value: listField("Java")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	want := []any{"Python", "React"}
	if got := result.Fields["skills"].List; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected skills %v, got %v", want, got)
	}
	if len(result.Ops) != 1 || result.Ops[0].Event != EventRemove {
		t.Fatalf("Expected a single REMOVE, got %+v", result.Ops)
	}
	if !reflect.DeepEqual(result.Ops[0].Value, []any{"Java"}) {
		t.Errorf("Expected REMOVE to list dropped items, got %v", result.Ops[0].Value)
	}
}

func TestMerge_RemoveAbsentItem_IsNoOp(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"skills": listField("Python")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpRemove, Field: "skills", Value: listField("Haskell")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Changed() {
		t.Errorf("Expected removing an absent item to be a no-op, got %+v", result.Ops)
	}
}

func TestMerge_RemoveAbsentField_IsNoOp(t *testing.T) {
	engine := testEngine()

	result, err := engine.Merge(nil, []ProposedUpdate{
		{Op: OpRemove, Field: "skills", Value: listField("Java")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Changed() {
		t.Errorf("Expected removing from an absent field to be a no-op, got %+v", result.Ops)
	}
}

func TestMerge_RemoveEmptiesList_FieldStaysPresent(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"pets": listField("dog named Max")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpRemove, Field: "pets", Value: listField("Dog named max")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	field, ok := result.Fields["pets"]
	if !ok {
		t.Fatal("Expected emptied list field to stay present")
	}
	if field.Kind != KindList || len(field.List) != 0 {
		t.Errorf("Expected empty list, got %+v", field)
	}
}

func TestMerge_RemoveScalarField(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"company": scalarField("Google")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpRemove, Field: "company", DeleteField: true},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if _, ok := result.Fields["company"]; ok {
		t.Error("Expected field to be deleted")
	}
	if len(result.Ops) != 1 || result.Ops[0].Event != EventRemove {
		t.Fatalf("Expected a single REMOVE, got %+v", result.Ops)
	}
	if result.Ops[0].Value != "Google" {
		t.Errorf("Expected REMOVE value Google, got %v", result.Ops[0].Value)
	}
}

func TestMerge_RemoveListAimedAtScalar_WarnsAndSkips(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"company": scalarField("Google")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpRemove, Field: "company", Value: listField("Google")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if result.Changed() {
		t.Errorf("Expected skip, got %+v", result.Ops)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %+v", result.Warnings)
	}
	if result.Fields["company"].Scalar != "Google" {
		t.Error("Scalar field should be untouched")
	}
}

func TestMerge_Replace(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"skills": listField("Python", "Java", "React")}

	update := ProposedUpdate{Op: OpReplace, Field: "skills", Value: listField("TypeScript", "Go", "Rust")}

	result, err := engine.Merge(current, []ProposedUpdate{update})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	want := []any{"TypeScript", "Go", "Rust"}
	if got := result.Fields["skills"].List; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected skills %v, got %v", want, got)
	}
	if len(result.Ops) != 1 || result.Ops[0].Event != EventReplace {
		t.Fatalf("Expected a single REPLACE, got %+v", result.Ops)
	}

	// Applying the same replacement again changes nothing
	again, err := engine.Merge(result.Fields, []ProposedUpdate{update})
	if err != nil {
		t.Fatalf("Second merge failed: %v", err)
	}
	if again.Changed() {
		t.Errorf("Expected REPLACE to be idempotent, got %+v", again.Ops)
	}
	if got := again.Fields["skills"].List; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected skills unchanged %v, got %v", want, got)
	}
}

func TestMerge_ReplaceAbsentField_ActsLikeAdd(t *testing.T) {
	engine := testEngine()

	result, err := engine.Merge(nil, []ProposedUpdate{
		{Op: OpReplace, Field: "skills", Value: listField("Go", "go ", "Rust")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(result.Ops) != 1 || result.Ops[0].Event != EventAdd {
		t.Fatalf("Expected ADD for replace on absent field, got %+v", result.Ops)
	}
	want := []any{"Go", "Rust"}
	if got := result.Fields["skills"].List; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected deduplicated install %v, got %v", want, got)
	}
}

func TestMerge_ConflictPair(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"likes": listField("pizza", "tomatoes")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "dislikes", Value: listField("tomatoes")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if got := result.Fields["likes"].List; !reflect.DeepEqual(got, []any{"pizza"}) {
		t.Errorf("Expected tomatoes evicted from likes, got %v", got)
	}
	if got := result.Fields["dislikes"].List; !reflect.DeepEqual(got, []any{"tomatoes"}) {
		t.Errorf("Expected dislikes == [tomatoes], got %v", got)
	}

	// The eviction shows up as an implicit REMOVE on the opposite field
	foundRemove := false
	for _, op := range result.Ops {
		if op.Field == "likes" && op.Event == EventRemove {
			foundRemove = true
			if !reflect.DeepEqual(op.Value, []any{"tomatoes"}) {
				t.Errorf("Expected evicted items in REMOVE, got %v", op.Value)
			}
		}
	}
	if !foundRemove {
		t.Errorf("Expected implicit REMOVE on likes, got %+v", result.Ops)
	}
}

func TestMerge_ConflictPairExclusivity(t *testing.T) {
	engine := testEngine()

	batches := [][]ProposedUpdate{
		{{Op: OpSet, Field: "likes", Value: listField("pizza", "sushi", "tomatoes")}},
		{{Op: OpSet, Field: "dislikes", Value: listField("Tomatoes", "rain")}},
		{{Op: OpSet, Field: "likes", Value: listField("rain")}},
		{{Op: OpReplace, Field: "dislikes", Value: listField("sushi")}},
	}

	fields := map[string]FieldValue{}
	for i, batch := range batches {
		result, err := engine.Merge(fields, batch)
		if err != nil {
			t.Fatalf("Merge %d failed: %v", i, err)
		}
		fields = result.Fields

		likes := normSet(fields["likes"].List)
		for _, item := range fields["dislikes"].List {
			if likes[Normalize(item)] {
				t.Fatalf("After batch %d, %v is in both likes and dislikes", i, item)
			}
		}
	}

	if got := fields["likes"].List; !reflect.DeepEqual(got, []any{"pizza", "rain"}) {
		t.Errorf("Unexpected final likes: %v", got)
	}
	if got := fields["dislikes"].List; !reflect.DeepEqual(got, []any{"sushi"}) {
		t.Errorf("Unexpected final dislikes: %v", got)
	}
}

func TestMerge_TypeConflict_AbortsWholeBatch(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"role": scalarField("developer")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "name", Value: scalarField("John")},
		{Op: OpSet, Field: "role", Value: listField("developer", "manager")},
	})
	if err == nil {
		t.Fatal("Expected type conflict error")
	}
	if result != nil {
		t.Error("Expected nil result on abort")
	}

	var conflict *errors.ErrFieldTypeConflict
	if !stderrors.As(err, &conflict) {
		t.Fatalf("Expected ErrFieldTypeConflict, got %T: %v", err, err)
	}
	if conflict.Field != "role" {
		t.Errorf("Expected conflict on role, got %s", conflict.Field)
	}

	// The earlier update in the batch must not leak into the input
	if _, ok := current["name"]; ok {
		t.Error("Input fields were mutated by an aborted batch")
	}
}

func TestMerge_ScalarProposedForListField_IsTypeConflict(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"skills": listField("Python")}

	_, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "skills", Value: scalarField("Python")},
	})
	if err == nil {
		t.Fatal("Expected type conflict error")
	}
}

func TestMerge_CopyOnWrite(t *testing.T) {
	engine := testEngine()
	current := map[string]FieldValue{"skills": listField("Python")}

	result, err := engine.Merge(current, []ProposedUpdate{
		{Op: OpSet, Field: "skills", Value: listField("Go")},
		{Op: OpSet, Field: "name", Value: scalarField("John")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if len(current) != 1 {
		t.Error("Input map gained fields")
	}
	if got := current["skills"].List; !reflect.DeepEqual(got, []any{"Python"}) {
		t.Errorf("Input list was mutated: %v", got)
	}
	if got := result.Fields["skills"].List; !reflect.DeepEqual(got, []any{"Python", "Go"}) {
		t.Errorf("Unexpected merged list: %v", got)
	}
}

func TestMerge_SameBatchAddThenRemove_LaterWins(t *testing.T) {
	engine := testEngine()

	result, err := engine.Merge(nil, []ProposedUpdate{
		{Op: OpSet, Field: "skills", Value: listField("Go", "Rust")},
		{Op: OpRemove, Field: "skills", Value: listField("Rust")},
	})
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if got := result.Fields["skills"].List; !reflect.DeepEqual(got, []any{"Go"}) {
		t.Errorf("Expected later remove to win, got %v", got)
	}
}
