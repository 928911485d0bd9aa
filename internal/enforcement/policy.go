// Package enforcement tracks per-user violations and the sanctions they earn.
package enforcement

import (
	"fmt"
	"time"

	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/domain"
)

// Policy is a fixed escalation ladder keyed purely on the cumulative
// violation count. Violation kind does not affect the outcome.
type Policy struct {
	WarningLimit        int
	TimedLimit          int
	RestrictionDuration time.Duration
	Now                 func() time.Time
}

func PolicyFromConfig(cfg config.Enforcement) Policy {
	return Policy{
		WarningLimit:        cfg.WarningLimit,
		TimedLimit:          cfg.TimedLimit,
		RestrictionDuration: cfg.RestrictionDuration,
		Now:                 time.Now,
	}
}

func (p Policy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Escalate returns the sanction for the given cumulative count.
func (p Policy) Escalate(count int) domain.Sanction {
	switch {
	case count <= 0:
		return domain.Sanction{Action: domain.ActionNone}
	case count <= p.WarningLimit:
		return domain.Sanction{Action: domain.ActionWarning}
	case count <= p.TimedLimit:
		until := p.now().Add(p.RestrictionDuration)
		return domain.Sanction{Action: domain.ActionTimedRestriction, RestrictedUntil: &until}
	default:
		return domain.Sanction{Action: domain.ActionIndefiniteRestriction}
	}
}

// ActionMessage is the text shown to a user after a sanction.
func ActionMessage(action domain.EnforcementAction, state domain.EnforcementState) string {
	switch action {
	case domain.ActionWarning:
		return fmt.Sprintf("Warning: your message broke the marketplace messaging rules (%d violation(s) so far). "+
			"Repeated violations will restrict your messaging.", state.ViolationCount)
	case domain.ActionTimedRestriction:
		if state.RestrictedUntil != nil {
			return fmt.Sprintf("Your messaging is restricted until %s after repeated violations.",
				state.RestrictedUntil.UTC().Format(time.RFC1123))
		}
		return "Your messaging is temporarily restricted after repeated violations."
	case domain.ActionIndefiniteRestriction:
		return "Your messaging is restricted indefinitely. Contact support to appeal."
	default:
		return ""
	}
}
