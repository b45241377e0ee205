package core

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestJSONSerializerEmpty(t *testing.T) {
	for _, packages := range [][]Package{nil, {}} {
		data, err := JSONSerializer{}.Serialize(packages)
		if err != nil {
			t.Fatalf("Serialize failed: %v", err)
		}
		if string(data) != "[]" {
			t.Errorf("Serialize(%v) = %s, want []", packages, data)
		}
	}
}

func TestJSONSerializerFields(t *testing.T) {
	packages := []Package{
		{Name: "foo", Version: "0.1.0"},
		{
			Name:     "serde",
			Version:  "1.0.228",
			Source:   CratesIOIndex,
			Checksum: strings.Repeat("ab", 32),
			Dependencies: []Dependency{
				{Name: "serde_derive", Version: "1.0.228", Source: CratesIOIndex},
			},
			License:  "MIT OR Apache-2.0",
			Licenses: []string{"MIT", "Apache-2.0"},
		},
	}

	data, err := JSONSerializer{}.Serialize(packages)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	if !strings.HasPrefix(string(data), `[{"name":"foo","version":"0.1.0"},`) {
		t.Errorf("unexpected output: %s", data)
	}

	var decoded []map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(decoded))
	}

	deps, ok := decoded[1]["dependencies"].([]any)
	if !ok || len(deps) != 1 {
		t.Fatalf("dependencies = %v", decoded[1]["dependencies"])
	}
	wantDep := "serde_derive 1.0.228 (" + CratesIOIndex + ")"
	if deps[0] != wantDep {
		t.Errorf("dependency = %v, want %q", deps[0], wantDep)
	}
	if _, ok := decoded[1]["yanked"]; ok {
		t.Error("yanked should be omitted when false")
	}
	if _, ok := decoded[0]["source"]; ok {
		t.Error("source should be omitted when empty")
	}
}

func TestJSONSerializerIndent(t *testing.T) {
	data, err := JSONSerializer{Indent: "  "}.Serialize([]Package{{Name: "foo", Version: "0.1.0"}})
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	want := "[\n  {\n    \"name\": \"foo\",\n    \"version\": \"0.1.0\"\n  }\n]"
	if string(data) != want {
		t.Errorf("Serialize = %q, want %q", data, want)
	}
}
