// SPDX-License-Identifier: GPL-3.0-only

package update

import "github.com/shini4i/dualsense-updater/internal/protocol"

// Result is the outcome of one Run.
type Result struct {
	// Phase is PhaseCompleted or PhaseFailed.
	Phase Phase
	// FailedPhase is the phase that failed. It is only meaningful when Phase is PhaseFailed.
	FailedPhase Phase

	ChunksSent  int
	TotalChunks int
	LastStatus  protocol.Status

	// Committed is set once every chunk was accepted. The controller keeps
	// the new image from then on, whatever happens in later phases.
	Committed bool
	// SafeToAbandon is set while no image data has reached the controller.
	SafeToAbandon bool

	InfoSkipped         bool
	CurrentVersion      uint16
	CurrentVersionKnown bool
	ImageVersion        uint16

	// Retries counts receive timeouts per phase.
	Retries  map[Phase]int
	Warnings []error
	Err      error
}

// Succeeded reports whether the run reached PhaseCompleted.
func (r *Result) Succeeded() bool {
	return r.Phase == PhaseCompleted
}

// session is the transient state of one run.
type session struct {
	phase      Phase
	chunksSent int
	lastStatus protocol.Status
	retries    map[Phase]int
	dataSent   bool
	committed  bool
	warnings   []error
}

func newSession() *session {
	return &session{
		phase:   PhaseIdle,
		retries: make(map[Phase]int),
	}
}

func (s *session) fill(res *Result) {
	res.ChunksSent = s.chunksSent
	res.LastStatus = s.lastStatus
	res.Committed = s.committed
	res.SafeToAbandon = !s.dataSent
	res.Retries = s.retries
	res.Warnings = s.warnings
}
