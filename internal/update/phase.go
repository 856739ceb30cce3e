// SPDX-License-Identifier: GPL-3.0-only

package update

import "fmt"

// Phase is a state of the update state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseInfo
	PhaseStartPending
	PhaseTransferring
	PhaseVerifying
	PhaseFinalizing
	PhaseCompleted
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseInfo:
		return "info"
	case PhaseStartPending:
		return "start"
	case PhaseTransferring:
		return "transfer"
	case PhaseVerifying:
		return "verify"
	case PhaseFinalizing:
		return "finalize"
	case PhaseCompleted:
		return "completed"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Terminal reports whether p ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}
