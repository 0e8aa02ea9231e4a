package grammar

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadVocabulary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands.yaml")
	doc := `name: commands
words:
  - start
  - stop
  - "next slide"
  - Previous
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("writing vocabulary: %v", err)
	}

	v, err := LoadVocabulary(path)
	if err != nil {
		t.Fatalf("LoadVocabulary() error = %v", err)
	}
	if v.Name != "commands" {
		t.Errorf("Name = %q, want %q", v.Name, "commands")
	}
	if len(v.Words) != 4 {
		t.Errorf("len(Words) = %d, want 4", len(v.Words))
	}
	if !v.Contains("previous") {
		t.Error("Contains should match case-insensitively")
	}
}

func TestLoadVocabularyErrors(t *testing.T) {
	if _, err := LoadVocabulary(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing file should fail")
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, []byte("name: nothing\n"), 0o644); err != nil {
		t.Fatalf("writing vocabulary: %v", err)
	}
	if _, err := LoadVocabulary(empty); err == nil {
		t.Error("vocabulary without words should fail")
	}
}

func TestContainsIgnoresPunctuation(t *testing.T) {
	v := NewVocabulary([]string{"stop", "go"})

	for _, word := range []string{"stop", "Stop.", "STOP!", `"stop"`} {
		if !v.Contains(word) {
			t.Errorf("Contains(%q) = false, want true", word)
		}
	}
	if v.Contains("stopping") {
		t.Error("Contains(\"stopping\") = true, want false")
	}
}

func TestConstrain(t *testing.T) {
	v := NewVocabulary([]string{"start", "stop", "next"})

	tests := []struct {
		in   string
		want string
	}{
		{"please Start the engine", "start"},
		{"Next! stop", "next stop"},
		{"nothing recognizable here", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := v.Constrain(tt.in); got != tt.want {
			t.Errorf("Constrain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
