// SPDX-License-Identifier: GPL-3.0-only

// Package progress renders update events for the operator.
package progress

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/shini4i/dualsense-updater/internal/update"
)

// logSteps is the number of transfer progress lines logged at info level.
const logSteps = 10

// LogReporter writes update events to a zerolog logger.
type LogReporter struct {
	logger  zerolog.Logger
	lastPct int
}

// NewLogReporter creates a reporter writing to logger.
func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

// Observe implements update.Observer.
func (r *LogReporter) Observe(ev update.Event) {
	switch ev.Kind {
	case update.EventPhase:
		if ev.Phase == update.PhaseTransferring {
			r.lastPct = 0
		}
		r.logger.Info().Stringer("phase", ev.Phase).Msg("Phase started")

	case update.EventPhaseSkipped:
		r.logger.Info().Stringer("phase", ev.Phase).Msg("Phase skipped")

	case update.EventChunk:
		r.logger.Debug().
			Int("sent", ev.ChunksSent).
			Int("total", ev.TotalChunks).
			Stringer("status", ev.Status).
			Msg("Chunk accepted")

		if ev.TotalChunks == 0 {
			return
		}
		pct := ev.ChunksSent * 100 / ev.TotalChunks
		if pct-r.lastPct >= 100/logSteps || ev.ChunksSent == ev.TotalChunks {
			r.lastPct = pct
			r.logger.Info().
				Int("sent", ev.ChunksSent).
				Int("total", ev.TotalChunks).
				Str("progress", fmt.Sprintf("%d%%", pct)).
				Msg("Writing firmware")
		}

	case update.EventWarning:
		r.logger.Warn().Err(ev.Err).Stringer("phase", ev.Phase).Msg("Update warning")

	case update.EventFinished:
		r.finished(ev)
	}
}

func (r *LogReporter) finished(ev update.Event) {
	res := ev.Result
	if res == nil {
		return
	}

	if res.Succeeded() {
		r.logger.Info().
			Int("chunks", res.ChunksSent).
			Int("warnings", len(res.Warnings)).
			Msg("Firmware update completed")
		return
	}

	r.logger.Error().
		Err(res.Err).
		Stringer("phase", res.FailedPhase).
		Int("sent", res.ChunksSent).
		Int("total", res.TotalChunks).
		Bool("committed", res.Committed).
		Bool("safe_to_abandon", res.SafeToAbandon).
		Msg("Firmware update failed")

	if !res.SafeToAbandon {
		r.logger.Warn().Msg("Image data already reached the controller, no rollback possible")
	}
}
