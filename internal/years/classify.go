// Package years resolves album release years from local evidence and the
// external sources, and applies them to the library in bulk.
package years

import (
	"strings"

	l "github.com/sirupsen/logrus"

	"tunesync/internal/config"
)

var log *l.Entry = l.WithFields(l.Fields{"comp": "years"})

// AlbumType classifies an album title by the configured pattern lists.
type AlbumType int

const (
	TypeNormal AlbumType = iota
	TypeSpecial
	TypeCompilation
	TypeReissue
)

func (t AlbumType) String() string {
	switch t {
	case TypeSpecial:
		return "special"
	case TypeCompilation:
		return "compilation"
	case TypeReissue:
		return "reissue"
	default:
		return "normal"
	}
}

// Action is what the year pipeline does with an album of a given type.
type Action int

const (
	// ActionNormal resolves and writes.
	ActionNormal Action = iota
	// ActionMarkAndSkip marks for verification without writing.
	ActionMarkAndSkip
	// ActionMarkAndUpdate writes the found year but also marks for
	// re-verification.
	ActionMarkAndUpdate
)

// Action maps the type onto its pipeline behaviour.
func (t AlbumType) Action() Action {
	switch t {
	case TypeSpecial, TypeCompilation:
		return ActionMarkAndSkip
	case TypeReissue:
		return ActionMarkAndUpdate
	default:
		return ActionNormal
	}
}

// Classifier holds the normalised pattern lists. Load once at startup and
// pass it to whoever needs detection.
type Classifier struct {
	special     [][]string
	compilation [][]string
	reissue     [][]string
}

// NewClassifier compiles the configured pattern lists.
func NewClassifier(cfg config.SpecialAlbumsConfig) *Classifier {
	return &Classifier{
		special:     compilePatterns(cfg.Special),
		compilation: compilePatterns(cfg.Compilation),
		reissue:     compilePatterns(cfg.Reissue),
	}
}

// Classify tags the album title. Special patterns win over compilation,
// compilation over reissue, so "Greatest Hits (Remastered)" stays a
// compilation.
func (c *Classifier) Classify(album string) AlbumType {
	words := titleWords(album)
	switch {
	case matchAny(words, c.special):
		return TypeSpecial
	case matchAny(words, c.compilation):
		return TypeCompilation
	case matchAny(words, c.reissue):
		return TypeReissue
	default:
		return TypeNormal
	}
}

func compilePatterns(patterns []string) [][]string {
	out := make([][]string, 0, len(patterns))
	for _, p := range patterns {
		if words := titleWords(p); len(words) > 0 {
			out = append(out, words)
		}
	}
	return out
}

// titleWords lowercases, folds hyphens into spaces and splits on word
// boundaries, so the pattern "b-sides" matches "B Sides".
func titleWords(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case '-', ' ', '\t', '(', ')', '[', ']', ':', ',', '.', '/':
			return true
		}
		return false
	})
}

func matchAny(words []string, patterns [][]string) bool {
	for _, p := range patterns {
		if containsSequence(words, p) {
			return true
		}
	}
	return false
}

func containsSequence(words, pattern []string) bool {
	if len(pattern) == 0 || len(pattern) > len(words) {
		return false
	}
	for i := 0; i+len(pattern) <= len(words); i++ {
		match := true
		for j, pw := range pattern {
			if words[i+j] != pw {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
