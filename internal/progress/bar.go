// SPDX-License-Identifier: GPL-3.0-only

package progress

import (
	"io"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"github.com/shini4i/dualsense-updater/internal/update"
)

const barWidth = 40

// BarReporter draws a terminal progress bar for the transfer phase.
type BarReporter struct {
	out io.Writer
	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewBarReporter creates a reporter drawing to out.
func NewBarReporter(out io.Writer) *BarReporter {
	return &BarReporter{out: out}
}

// Observe implements update.Observer.
func (r *BarReporter) Observe(ev update.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case update.EventChunk:
		if r.bar == nil {
			r.bar = progressbar.NewOptions(ev.TotalChunks,
				progressbar.OptionSetWriter(r.out),
				progressbar.OptionSetWidth(barWidth),
				progressbar.OptionSetDescription("Writing"),
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
			)
		}
		if err := r.bar.Set(ev.ChunksSent); err != nil {
			log.Debug().Err(err).Msg("Failed to render progress bar")
		}

	case update.EventPhase:
		if ev.Phase == update.PhaseVerifying {
			r.close(true)
		}

	case update.EventFinished:
		r.close(ev.Phase == update.PhaseCompleted)
	}
}

func (r *BarReporter) close(completed bool) {
	if r.bar == nil {
		return
	}

	var err error
	if completed {
		err = r.bar.Finish()
	} else {
		err = r.bar.Exit()
	}
	if err != nil {
		log.Debug().Err(err).Msg("Failed to close progress bar")
	}
	_, _ = io.WriteString(r.out, "\n")
	r.bar = nil
}
