package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
)

// Canonical short status messages used across the app.
const (
	MsgLoading     = "Loading people…"
	MsgTyping      = "Waiting for you to stop typing…"
	MsgIdle        = "Starting…"
	MsgNoResults   = "No people match this filter"
	MsgUnavailable = "Service unavailable"
)

// StatusKind indicates severity for status messages.
type StatusKind int

const (
	StatusInfo StatusKind = iota
	StatusSuccess
	StatusWarn
	StatusError
)

func (k StatusKind) style() lipgloss.Style {
	switch k {
	case StatusSuccess:
		return StatusSuccessStyle
	case StatusWarn:
		return StatusWarnStyle
	case StatusError:
		return StatusErrorStyle
	default:
		return StatusInfoStyle
	}
}

func MsgResultsCount(n int) string {
	if n == 1 {
		return "1 person"
	}
	return fmt.Sprintf("%d people", n)
}

func MsgFailures(n int, last string) string {
	if n == 1 {
		return "Fetch failed: " + last
	}
	return fmt.Sprintf("Fetch failed %d times: %s", n, last)
}

// statusLine describes the controller state for the status bar.
func statusLine(snap machine.Snapshot) (string, StatusKind) {
	switch snap.State {
	case machine.StateIdle:
		return MsgIdle, StatusInfo
	case machine.StateFetch:
		return MsgLoading, StatusInfo
	case machine.StateDebounceFetch:
		return MsgTyping, StatusInfo
	case machine.StateFailure:
		errs := snap.Context.Errors
		if len(errs) == 0 {
			return "Fetch failed", StatusError
		}
		kind := StatusWarn
		if snap.Status() == people.StatusUnavailable {
			kind = StatusError
		}
		return MsgFailures(len(errs), errs[len(errs)-1].Message), kind
	default:
		if len(snap.Context.People) == 0 {
			return MsgNoResults, StatusWarn
		}
		return MsgResultsCount(len(snap.Context.People)), StatusSuccess
	}
}
