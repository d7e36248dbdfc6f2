package governor

import (
	"errors"
	"fmt"

	"github.com/davidahmann/canon/internal/risk"
)

var (
	ErrBlocked       = errors.New("action blocked")
	ErrConfiguration = errors.New("governor configuration error")
)

// BlockedError is returned when an action is requested at an ungated risk
// level. Nothing was executed and nothing was recorded; declaring intent
// clears the condition.
type BlockedError struct {
	Action string
	Risk   risk.Level
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("action %q blocked at risk %s: declare intent first", e.Action, e.Risk)
}

func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }

type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("governor config: %s %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
