package fieldpath

import (
	"errors"
	"testing"

	"github.com/maruel/leafdb/internal/docval"
)

func TestIsModifier(t *testing.T) {
	tests := []struct {
		name    string
		update  map[string]any
		want    bool
		wantErr bool
	}{
		{"empty", map[string]any{}, false, false},
		{"replacement", map[string]any{"a": 1}, false, false},
		{"set", map[string]any{"$set": map[string]any{"a": 1}}, true, false},
		{"all modifiers", map[string]any{"$set": map[string]any{}, "$add": map[string]any{}, "$push": map[string]any{}}, true, false},
		{"mixed", map[string]any{"$set": map[string]any{"a": 1}, "b": 2}, false, true},
		{"unknown", map[string]any{"$inc": map[string]any{"a": 1}}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsModifier(tt.update)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsModifier() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidUpdate) {
				t.Errorf("IsModifier() error = %v, want ErrInvalidUpdate", err)
			}
			if got != tt.want {
				t.Errorf("IsModifier() = %v, want %v", got, tt.want)
			}
		})
	}
}

// apply parses update and applies it to doc.
func apply(doc, update map[string]any) (map[string]any, error) {
	m, err := ParseModifier(update)
	if err != nil {
		return nil, err
	}
	return m.Apply(doc)
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		doc    map[string]any
		update map[string]any
		want   map[string]any
	}{
		{
			"add",
			map[string]any{"a": 1.0},
			map[string]any{"$add": map[string]any{"a": 2}},
			map[string]any{"a": 3.0},
		},
		{
			"add to string is a no-op",
			map[string]any{"a": "x"},
			map[string]any{"$add": map[string]any{"a": 2}},
			map[string]any{"a": "x"},
		},
		{
			"add string is a no-op",
			map[string]any{"a": 1.0},
			map[string]any{"$add": map[string]any{"a": "2"}},
			map[string]any{"a": 1.0},
		},
		{
			"add to missing is a no-op",
			map[string]any{"a": 1.0},
			map[string]any{"$add": map[string]any{"b": 2}},
			map[string]any{"a": 1.0},
		},
		{
			"add nested in array",
			map[string]any{"a": []any{map[string]any{"n": 1.0}, map[string]any{"n": 5.0}}},
			map[string]any{"$add": map[string]any{"a.1.n": -2.5}},
			map[string]any{"a": []any{map[string]any{"n": 1.0}, map[string]any{"n": 2.5}}},
		},
		{
			"add with signed index is a no-op",
			map[string]any{"a": []any{1.0, 2.0}},
			map[string]any{"$add": map[string]any{"a.+1": 5}},
			map[string]any{"a": []any{1.0, 2.0}},
		},
		{
			"set top level",
			map[string]any{"a": 1.0},
			map[string]any{"$set": map[string]any{"b": "x"}},
			map[string]any{"a": 1.0, "b": "x"},
		},
		{
			"set creates intermediates",
			map[string]any{},
			map[string]any{"$set": map[string]any{"a.b.c": true}},
			map[string]any{"a": map[string]any{"b": map[string]any{"c": true}}},
		},
		{
			"set replaces null intermediate",
			map[string]any{"a": nil},
			map[string]any{"$set": map[string]any{"a.b": 1}},
			map[string]any{"a": map[string]any{"b": 1.0}},
		},
		{
			"set array element",
			map[string]any{"a": []any{"x", "y"}},
			map[string]any{"$set": map[string]any{"a.1": "z"}},
			map[string]any{"a": []any{"x", "z"}},
		},
		{
			"set inside array element",
			map[string]any{"a": []any{map[string]any{"b": 1.0}}},
			map[string]any{"$set": map[string]any{"a.0.c": 2}},
			map[string]any{"a": []any{map[string]any{"b": 1.0, "c": 2.0}}},
		},
		{
			"set numeric key on object",
			map[string]any{"a": map[string]any{}},
			map[string]any{"$set": map[string]any{"a.0": "x"}},
			map[string]any{"a": map[string]any{"0": "x"}},
		},
		{
			"set parent then child",
			map[string]any{},
			map[string]any{"$set": map[string]any{"a.b": 2, "a": map[string]any{"c": 1}}},
			map[string]any{"a": map[string]any{"b": 2.0, "c": 1.0}},
		},
		{
			"push",
			map[string]any{"a": []any{1.0}},
			map[string]any{"$push": map[string]any{"a": map[string]any{"b": 2}}},
			map[string]any{"a": []any{1.0, map[string]any{"b": 2.0}}},
		},
		{
			"push to non array is a no-op",
			map[string]any{"a": "x"},
			map[string]any{"$push": map[string]any{"a": 1}},
			map[string]any{"a": "x"},
		},
		{
			"push to missing is a no-op",
			map[string]any{},
			map[string]any{"$push": map[string]any{"a": 1}},
			map[string]any{},
		},
		{
			"set then add then push",
			map[string]any{"n": 1.0},
			map[string]any{
				"$push": map[string]any{"list": "x"},
				"$add":  map[string]any{"n": 1},
				"$set":  map[string]any{"list": []any{}, "n": 10},
			},
			map[string]any{"n": 11.0, "list": []any{"x"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := docval.CloneObject(tt.doc)
			got, err := apply(tt.doc, tt.update)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if !docval.Equal(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
			if !docval.Equal(tt.doc, before) {
				t.Errorf("Apply() mutated its input: %v", tt.doc)
			}
		})
	}
}

func TestApplyErrors(t *testing.T) {
	doc := map[string]any{"_id": "1", "s": "x", "arr": []any{1.0}}
	tests := []struct {
		name   string
		update map[string]any
	}{
		{"replacement", map[string]any{"a": 1}},
		{"set id", map[string]any{"$set": map[string]any{"_id": "2"}}},
		{"set inside id", map[string]any{"$set": map[string]any{"_id.x": "2"}}},
		{"set through primitive", map[string]any{"$set": map[string]any{"s.a": 1}}},
		{"set past array end", map[string]any{"$set": map[string]any{"arr.1": 1}}},
		{"set non numeric array index", map[string]any{"$set": map[string]any{"arr.x": 1}}},
		{"set signed array index", map[string]any{"$set": map[string]any{"arr.+0": 1}}},
		{"set padded array index", map[string]any{"$set": map[string]any{"arr.00": 1}}},
		{"invalid utf-8 path", map[string]any{"$set": map[string]any{"a\xff": 1}}},
		{"modifier operand not object", map[string]any{"$set": 1}},
		{"empty path", map[string]any{"$set": map[string]any{"": 1}}},
		{"empty segment", map[string]any{"$set": map[string]any{"a..b": 1}}},
		{"operator segment", map[string]any{"$set": map[string]any{"a.$b": 1}}},
		{"operator in value", map[string]any{"$set": map[string]any{"a": map[string]any{"$b": 1}}}},
		{"unsupported value", map[string]any{"$push": map[string]any{"arr": func() {}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := apply(doc, tt.update); !errors.Is(err, ErrInvalidUpdate) {
				t.Errorf("Apply() error = %v, want ErrInvalidUpdate", err)
			}
		})
	}
}

func TestModifierValuesNotShared(t *testing.T) {
	m, err := ParseModifier(map[string]any{"$set": map[string]any{"a": map[string]any{"b": 1}}})
	if err != nil {
		t.Fatal(err)
	}
	d1, err := m.Apply(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := m.Apply(map[string]any{})
	if err != nil {
		t.Fatal(err)
	}
	d1["a"].(map[string]any)["b"] = 2.0
	if d2["a"].(map[string]any)["b"] != 1.0 {
		t.Error("documents updated by the same modifier share values")
	}
}

func TestProject(t *testing.T) {
	doc := map[string]any{
		"_id":  "1",
		"name": "Alice",
		"address": map[string]any{
			"city": "Paris",
			"zip":  "75001",
		},
		"orders": []any{
			map[string]any{"sku": "a", "qty": 1.0},
			map[string]any{"sku": "b", "qty": 2.0},
			map[string]any{"sku": "c", "qty": 3.0},
		},
	}
	tests := []struct {
		name   string
		fields []string
		want   map[string]any
	}{
		{"empty", []string{}, map[string]any{}},
		{"top level", []string{"_id", "name"}, map[string]any{"_id": "1", "name": "Alice"}},
		{"nested", []string{"address.city"}, map[string]any{"address": map[string]any{"city": "Paris"}}},
		{"whole object", []string{"address"}, map[string]any{"address": map[string]any{"city": "Paris", "zip": "75001"}}},
		{"parent wins over child", []string{"address.city", "address"}, map[string]any{"address": map[string]any{"city": "Paris", "zip": "75001"}}},
		{"missing", []string{"nope", "address.nope"}, map[string]any{}},
		{"array elements", []string{"orders.2.sku", "orders.0.qty"}, map[string]any{"orders": []any{map[string]any{"qty": 1.0}, map[string]any{"sku": "c"}}}},
		{"array out of range", []string{"orders.9"}, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Project(doc, tt.fields)
			if err != nil {
				t.Fatalf("Project() error = %v", err)
			}
			if !docval.Equal(got, tt.want) {
				t.Errorf("Project() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("nil returns document", func(t *testing.T) {
		got, err := Project(doc, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !docval.Equal(got, doc) {
			t.Errorf("Project(nil) = %v", got)
		}
	})

	t.Run("copies values", func(t *testing.T) {
		got, err := Project(doc, []string{"address"})
		if err != nil {
			t.Fatal(err)
		}
		got["address"].(map[string]any)["city"] = "Lyon"
		if doc["address"].(map[string]any)["city"] != "Paris" {
			t.Error("Project() shares memory with the document")
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, fields := range [][]string{{"$where"}, {""}, {"a..b"}, {"name", "$id"}} {
			if _, err := Project(doc, fields); !errors.Is(err, ErrInvalidProjection) {
				t.Errorf("Project(%q) error = %v, want ErrInvalidProjection", fields, err)
			}
		}
	})
}
