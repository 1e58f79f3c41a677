package webhook

import (
	"errors"

	"github.com/corpai/tggateway/internal/i18n"
)

var (
	ErrTenantNotRegistered = errors.New("bot not registered")
	ErrUnsupportedUpdate   = errors.New("unsupported update type")
	ErrUnsupportedEvent    = errors.New("unsupported system event")
)

// Outcome names the terminal action taken for one update.
type Outcome string

const (
	OutcomeForwarded  Outcome = "forwarded"
	OutcomeStaged     Outcome = "staged"
	OutcomeSwitched   Outcome = "switched"
	OutcomeReplied    Outcome = "replied"
	OutcomeReplayed   Outcome = "replayed"
	OutcomeRemembered Outcome = "remembered"
	OutcomeCleared    Outcome = "cleared"
	OutcomeIgnored    Outcome = "ignored"
	OutcomeFailed     Outcome = "failed"
)

// Result is what Handle and HandleSystem report. Err is set only for failed
// outcomes; Warning carries a non-fatal failure of a secondary step.
type Result struct {
	Outcome Outcome
	Reply   i18n.Key
	Err     error
	Warning error
}

func (r Result) OK() bool { return r.Err == nil }

func replied(key i18n.Key) Result {
	return Result{Outcome: OutcomeReplied, Reply: key}
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}
