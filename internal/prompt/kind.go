package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned by ParseKind for names outside the template set.
var ErrUnknownKind = errors.New("unknown prompt template")

// Kind selects a prompt template.
type Kind string

const (
	KnowledgeExtraction  Kind = "knowledge_extraction"
	EntityRelation       Kind = "entity_relation"
	ConceptUnderstanding Kind = "concept_understanding"
	QAGeneration         Kind = "qa_generation"
	Summarization        Kind = "summarization"

	// Raw marks a pass-through record built without a template.
	Raw Kind = "raw"
)

// Kinds lists the template kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KnowledgeExtraction, EntityRelation, ConceptUnderstanding, QAGeneration, Summarization}
}

// HasTemplate reports whether k names one of the templates.
func (k Kind) HasTemplate() bool {
	_, ok := templates[k]
	return ok
}

// ParseKind accepts template names case-insensitively, with '-' or '_'.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if k == "" {
		return KnowledgeExtraction, nil
	}
	if k.HasTemplate() {
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}
