// Package labels holds the classifier's class table and turns raw score
// vectors into freshness predictions.
package labels

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	Fresh  Status = "Fresh"
	Rotten Status = "Rotten"
)

const (
	freshPrefix  = "fresh"
	rottenPrefix = "rotten"
)

var (
	ErrUnknownTag      = errors.New("unrecognized class tag")
	ErrIndexOutOfRange = errors.New("class index out of range")
	ErrEmptyVector     = errors.New("empty prediction vector")
)

// DefaultTags is the class order the fruit classifier was trained with.
// Position i is output index i of the model.
var DefaultTags = []string{
	"freshapples", "freshbanana", "freshcapsicum", "freshcucumber",
	"freshokra", "freshoranges", "freshpotato", "freshtomato",
	"rottenapples", "rottenbanana", "rottencapsicum", "rottencucumber",
	"rottenokra", "rottenoranges", "rottenpotato", "rottentomato",
}

// Class is a parsed table entry.
type Class struct {
	Tag     string
	Status  Status
	Produce string
}

// Label is the display form, e.g. "Fresh Apples".
func (c Class) Label() string {
	return string(c.Status) + " " + c.Produce
}

// ParseTag splits a raw tag such as "rottenbanana" into its status and
// capitalized produce name.
func ParseTag(tag string) (Class, error) {
	var (
		status Status
		rest   string
	)
	switch {
	case strings.HasPrefix(tag, freshPrefix):
		status, rest = Fresh, strings.TrimPrefix(tag, freshPrefix)
	case strings.HasPrefix(tag, rottenPrefix):
		status, rest = Rotten, strings.TrimPrefix(tag, rottenPrefix)
	default:
		return Class{}, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	if rest == "" {
		return Class{}, fmt.Errorf("%w: %q has no produce name", ErrUnknownTag, tag)
	}
	return Class{
		Tag:     tag,
		Status:  status,
		Produce: strings.ToUpper(rest[:1]) + strings.ToLower(rest[1:]),
	}, nil
}

// Table is an immutable, ordered set of classes.
type Table struct {
	classes []Class
}

var defaultTable = mustTable(DefaultTags)

// Default returns the table for DefaultTags.
func Default() *Table {
	return defaultTable
}

func NewTable(tags []string) (*Table, error) {
	if len(tags) == 0 {
		return nil, errors.New("label table is empty")
	}
	classes := make([]Class, len(tags))
	for i, tag := range tags {
		c, err := ParseTag(tag)
		if err != nil {
			return nil, fmt.Errorf("label %d: %w", i, err)
		}
		classes[i] = c
	}
	return &Table{classes: classes}, nil
}

func mustTable(tags []string) *Table {
	t, err := NewTable(tags)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Len() int {
	return len(t.classes)
}

// Class returns the entry at index i.
func (t *Table) Class(i int) (Class, error) {
	if i < 0 || i >= len(t.classes) {
		return Class{}, fmt.Errorf("%w: %d not in [0,%d)", ErrIndexOutOfRange, i, len(t.classes))
	}
	return t.classes[i], nil
}

// Tags returns a copy of the raw tags in index order.
func (t *Table) Tags() []string {
	tags := make([]string, len(t.classes))
	for i, c := range t.classes {
		tags[i] = c.Tag
	}
	return tags
}

// Matches reports whether tags lists exactly this table's tags in order.
func (t *Table) Matches(tags []string) bool {
	if len(tags) != len(t.classes) {
		return false
	}
	for i, c := range t.classes {
		if tags[i] != c.Tag {
			return false
		}
	}
	return true
}
