// SPDX-License-Identifier: GPL-3.0-only

package progress_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/shini4i/dualsense-updater/internal/progress"
	"github.com/shini4i/dualsense-updater/internal/update"
)

func transferEvents(total int) []update.Event {
	events := []update.Event{
		{Kind: update.EventPhaseSkipped, Phase: update.PhaseInfo},
		{Kind: update.EventPhase, Phase: update.PhaseStartPending},
		{Kind: update.EventPhase, Phase: update.PhaseTransferring},
	}
	for i := 1; i <= total; i++ {
		events = append(events, update.Event{
			Kind:        update.EventChunk,
			Phase:       update.PhaseTransferring,
			ChunksSent:  i,
			TotalChunks: total,
		})
	}
	return events
}

func TestLogReporter_Success(t *testing.T) {
	var buf bytes.Buffer
	r := progress.NewLogReporter(zerolog.New(&buf).Level(zerolog.InfoLevel))

	events := transferEvents(40)
	events = append(events,
		update.Event{Kind: update.EventPhase, Phase: update.PhaseVerifying},
		update.Event{Kind: update.EventWarning, Phase: update.PhaseVerifying, Err: update.ErrBenignVerifyMismatch},
		update.Event{Kind: update.EventPhase, Phase: update.PhaseFinalizing},
		update.Event{Kind: update.EventFinished, Phase: update.PhaseCompleted, Result: &update.Result{
			Phase:      update.PhaseCompleted,
			ChunksSent: 40,
			Warnings:   []error{update.ErrBenignVerifyMismatch},
		}},
	)
	for _, ev := range events {
		r.Observe(ev)
	}

	out := buf.String()
	assert.Contains(t, out, `"phase":"info","message":"Phase skipped"`)
	assert.Contains(t, out, `"phase":"verify","message":"Phase started"`)
	assert.Equal(t, 10, strings.Count(out, "Writing firmware"))
	assert.Contains(t, out, `"progress":"100%"`)
	assert.Contains(t, out, "Update warning")
	assert.Contains(t, out, "Firmware update completed")
	assert.NotContains(t, out, "Chunk accepted")
}

func TestLogReporter_Failure(t *testing.T) {
	tests := []struct {
		name          string
		result        *update.Result
		expectWarning bool
	}{
		{
			name: "before transfer",
			result: &update.Result{
				Phase:         update.PhaseFailed,
				FailedPhase:   update.PhaseStartPending,
				SafeToAbandon: true,
				Err:           errors.New("rejected"),
			},
		},
		{
			name: "after commit",
			result: &update.Result{
				Phase:       update.PhaseFailed,
				FailedPhase: update.PhaseVerifying,
				Committed:   true,
				Err:         errors.New("rejected"),
			},
			expectWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			r := progress.NewLogReporter(zerolog.New(&buf))

			r.Observe(update.Event{Kind: update.EventFinished, Phase: update.PhaseFailed, Result: tt.result})

			out := buf.String()
			assert.Contains(t, out, "Firmware update failed")
			assert.Contains(t, out, `"phase":"`+tt.result.FailedPhase.String()+`"`)
			if tt.expectWarning {
				assert.Contains(t, out, "no rollback possible")
			} else {
				assert.NotContains(t, out, "no rollback possible")
			}
		})
	}
}

func TestLogReporter_DebugChunks(t *testing.T) {
	var buf bytes.Buffer
	r := progress.NewLogReporter(zerolog.New(&buf).Level(zerolog.DebugLevel))

	for _, ev := range transferEvents(3) {
		r.Observe(ev)
	}
	assert.Equal(t, 3, strings.Count(buf.String(), "Chunk accepted"))
}

func TestBarReporter(t *testing.T) {
	var buf bytes.Buffer
	r := progress.NewBarReporter(&buf)

	for _, ev := range transferEvents(10) {
		r.Observe(ev)
	}
	r.Observe(update.Event{Kind: update.EventPhase, Phase: update.PhaseVerifying})
	r.Observe(update.Event{Kind: update.EventFinished, Phase: update.PhaseCompleted, Result: &update.Result{Phase: update.PhaseCompleted}})

	out := buf.String()
	assert.Contains(t, out, "Writing")
	assert.Contains(t, out, "10/10")
}

func TestBarReporter_NoTransfer(t *testing.T) {
	var buf bytes.Buffer
	r := progress.NewBarReporter(&buf)

	r.Observe(update.Event{Kind: update.EventPhase, Phase: update.PhaseStartPending})
	r.Observe(update.Event{Kind: update.EventFinished, Phase: update.PhaseFailed, Result: &update.Result{Phase: update.PhaseFailed}})

	assert.Empty(t, buf.String())
}
