package grammar

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary is the fixed word list recognition is constrained to.
type Vocabulary struct {
	Name  string   `yaml:"name"`
	Words []string `yaml:"words"`

	index map[string]struct{}
}

// LoadVocabulary reads a vocabulary definition from a YAML file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("grammar: read vocabulary %q: %w", path, err)
	}

	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("grammar: parse vocabulary %q: %w", path, err)
	}
	if len(v.Words) == 0 {
		return nil, fmt.Errorf("grammar: vocabulary %q has no words", path)
	}

	v.buildIndex()
	return &v, nil
}

// NewVocabulary builds a vocabulary from an in-memory word list.
func NewVocabulary(words []string) *Vocabulary {
	v := &Vocabulary{Words: words}
	v.buildIndex()
	return v
}

func (v *Vocabulary) buildIndex() {
	v.index = make(map[string]struct{}, len(v.Words))
	for _, w := range v.Words {
		v.index[canonical(w)] = struct{}{}
	}
}

// Contains reports whether the word belongs to the vocabulary.
func (v *Vocabulary) Contains(word string) bool {
	_, ok := v.index[canonical(word)]
	return ok
}

// Constrain keeps only the in-vocabulary words of the decoded text in their
// canonical form, preserving order. An empty result means nothing
// recognizable was said.
func (v *Vocabulary) Constrain(text string) string {
	var kept []string
	for _, word := range strings.Fields(text) {
		if v.Contains(word) {
			kept = append(kept, canonical(word))
		}
	}
	return strings.Join(kept, " ")
}

func canonical(word string) string {
	return strings.ToLower(strings.Trim(word, ".,!?;:\"'"))
}
