package inference

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LabelEncoding is the fitted list of composite labels; position is the
// class index.
type LabelEncoding struct {
	classes []string
	index   map[string]int
}

type labelEncodingFile struct {
	Classes []string `json:"classes"`
}

// NewLabelEncoding validates and indexes classes.
func NewLabelEncoding(classes []string) (*LabelEncoding, error) {
	if len(classes) == 0 {
		return nil, errors.New("label encoding has no classes")
	}
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		if c == "" {
			return nil, fmt.Errorf("label encoding class %d is empty", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("label encoding class %q is duplicated", c)
		}
		index[c] = i
	}
	out := make([]string, len(classes))
	copy(out, classes)
	return &LabelEncoding{classes: out, index: index}, nil
}

// DecodeLabelEncoding parses {"classes": [...]}.
func DecodeLabelEncoding(data []byte) (*LabelEncoding, error) {
	var file labelEncodingFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse label encoding: %w", err)
	}
	return NewLabelEncoding(file.Classes)
}

// Label returns the composite label of class index.
func (l *LabelEncoding) Label(index int) (string, error) {
	if index < 0 || index >= len(l.classes) {
		return "", &UnknownClassError{Index: index, Classes: len(l.classes)}
	}
	return l.classes[index], nil
}

// Index is the inverse of Label.
func (l *LabelEncoding) Index(label string) (int, bool) {
	i, ok := l.index[label]
	return i, ok
}

// Len returns the number of classes.
func (l *LabelEncoding) Len() int { return len(l.classes) }
