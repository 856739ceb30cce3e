// SPDX-License-Identifier: GPL-3.0-only

package update

import "github.com/shini4i/dualsense-updater/internal/protocol"

// EventKind identifies what an Event reports.
type EventKind int

const (
	// EventPhase is emitted when a phase is entered.
	EventPhase EventKind = iota
	// EventPhaseSkipped is emitted for an optional phase that does not run.
	EventPhaseSkipped
	// EventChunk is emitted after a chunk is accepted.
	EventChunk
	// EventWarning carries a non-fatal problem.
	EventWarning
	// EventFinished is emitted once with the final Result.
	EventFinished
)

// Event is a progress notification from the state machine.
type Event struct {
	Kind        EventKind
	Phase       Phase
	ChunksSent  int
	TotalChunks int
	Status      protocol.Status
	Err         error
	Result      *Result
}

// Observer receives events synchronously from the goroutine driving the update.
type Observer func(Event)
