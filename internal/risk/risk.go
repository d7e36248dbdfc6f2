// Package risk derives a session's risk level from the facts a governor has
// accumulated: whether an intent was declared, whether any action has been
// recorded, and whether a liability link is attached.
package risk

import (
	"fmt"
	"strings"
)

// Level is a totally ordered risk classification. Higher levels carry more
// accountability.
type Level int

const (
	Wild Level = iota
	Declared
	Traceable
	// Constrained is reserved. Assign never produces it; it exists so that
	// ordering comparisons stay stable once a triggering condition exists.
	Constrained
	Liable
	// Sovereign is reserved, like Constrained.
	Sovereign
)

var levelNames = [...]string{
	Wild:        "WILD",
	Declared:    "DECLARED",
	Traceable:   "TRACEABLE",
	Constrained: "CONSTRAINED",
	Liable:      "LIABLE",
	Sovereign:   "SOVEREIGN",
}

func (l Level) String() string {
	if l < Wild || l > Sovereign {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

// Gated reports whether the level permits execution. Only Wild is refused.
func (l Level) Gated() bool {
	return l > Wild
}

func (l Level) MarshalText() ([]byte, error) {
	if l < Wild || l > Sovereign {
		return nil, fmt.Errorf("invalid risk level: %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel parses a level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, candidate := range levelNames {
		if candidate == name {
			return Level(i), nil
		}
	}
	return Wild, fmt.Errorf("unknown risk level: %q", s)
}

type Input struct {
	IntentDeclared bool
	EntryCount     int64
	LiabilityLink  string
}

// Assign applies the lattice as a first-match decision list. It is pure: the
// same input always yields the same level.
func Assign(in Input) Level {
	switch {
	case !in.IntentDeclared:
		return Wild
	case in.EntryCount == 0:
		return Declared
	case in.LiabilityLink == "":
		return Traceable
	default:
		return Liable
	}
}
