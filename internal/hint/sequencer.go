// SPDX-License-Identifier: MPL-2.0

package hint

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/faultlab/faultlab/internal/core/keyed"
	"github.com/faultlab/faultlab/internal/scenario"
)

const (
	// RepeatProbability is the chance that an exhausted cursor starts over
	// instead of producing a solution-derived hint.
	RepeatProbability = 0.7

	// minKeywordLength is exclusive: keywords are longer than this.
	minKeywordLength = 4

	noSolutionHint = "Look carefully at the error messages and try to understand what they're telling you."
	noKeywordHint  = "The solution involves a common Linux troubleshooting command."
	keywordHint    = "The solution involves using or checking something related to '%s'."
)

type (
	// Key identifies one hint cursor. Keying by session keeps two learners
	// on the same issue from advancing each other's hints.
	Key struct {
		SessionID string
		IssueID   string
	}

	// Sequencer hands out hints and owns the cursor table.
	// It is safe for concurrent use; calls for the same key serialize.
	Sequencer struct {
		cursors *keyed.Map[Key, int]
		random  RandomSource
	}

	// Option configures a Sequencer.
	Option func(*Sequencer)
)

// WithRandomSource sets the source of randomness.
func WithRandomSource(src RandomSource) Option {
	return func(s *Sequencer) {
		if src != nil {
			s.random = src
		}
	}
}

// NewSequencer creates a sequencer with an empty cursor table.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{
		cursors: keyed.NewMap[Key, int](16),
		random:  NewRandomSource(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next returns the next labelled hint for key, for example "Hint 2: ...".
func (s *Sequencer) Next(key Key, issue *scenario.Issue) string {
	if len(issue.Hints) == 0 {
		return label(1, s.genericHint(issue.Category))
	}

	var text string
	s.cursors.Update(key, func(cursor int, _ bool) (int, bool) {
		switch {
		case cursor < len(issue.Hints):
			text = label(cursor+1, issue.Hints[cursor])
			return cursor + 1, true
		case s.random.Float64() < RepeatProbability:
			text = label(1, issue.Hints[0])
			return 0, true
		default:
			text = label(len(issue.Hints)+1, s.specificHint(issue.Solution))
			return cursor, true
		}
	})
	return text
}

// Cursor returns the current cursor for key; zero if none exists yet.
func (s *Sequencer) Cursor(key Key) int {
	cursor, _ := s.cursors.Load(key)
	return cursor
}

// Forget drops the cursor for key.
func (s *Sequencer) Forget(key Key) {
	s.cursors.Delete(key)
}

// Len returns the number of live cursors.
func (s *Sequencer) Len() int {
	return s.cursors.Len()
}

func (s *Sequencer) genericHint(c scenario.Category) string {
	hints := genericHints[c]
	if len(hints) == 0 {
		return FallbackGenericHint
	}
	return hints[pick(s.random, len(hints))]
}

func (s *Sequencer) specificHint(solution string) string {
	if solution == "" {
		return noSolutionHint
	}

	var keywords []string
	for _, word := range strings.Fields(solution) {
		if utf8.RuneCountInString(word) > minKeywordLength {
			keywords = append(keywords, word)
		}
	}
	if len(keywords) == 0 {
		return noKeywordHint
	}
	return fmt.Sprintf(keywordHint, keywords[pick(s.random, len(keywords))])
}

func label(n int, text string) string {
	return fmt.Sprintf("Hint %d: %s", n, text)
}
