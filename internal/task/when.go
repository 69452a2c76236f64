package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// layouts accepted before falling back to natural language parsing.
var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseWhen turns user input into a normalized UTC timestamp.
//
// Structured layouts are tried first, then natural language such as
// "tomorrow 5pm" or "next friday" relative to base. Empty input returns nil.
func ParseWhen(input string, base time.Time) (*time.Time, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, nil
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, base.Location()); err == nil {
			u := t.UTC()
			return &u, nil
		}
	}

	r, err := parser.Parse(s, base)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", s, err)
	}
	if r == nil {
		return nil, fmt.Errorf("unrecognized date %q", s)
	}

	u := r.Time.UTC()
	return &u, nil
}
