// SPDX-License-Identifier: GPL-3.0-only

package update

import (
	"time"

	"github.com/shini4i/dualsense-updater/internal/protocol"
)

const (
	// DefaultChunkSize is one WriteUpdateImage report payload.
	DefaultChunkSize = protocol.MaxReportPayload

	// DefaultPollInterval is the delay between two status reads.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultPhaseTimeout bounds the wait for a terminal status. During the
	// transfer it applies to each image report, not to the whole phase.
	DefaultPhaseTimeout = 30 * time.Second

	// DefaultReceiveTimeout bounds a single status read.
	DefaultReceiveTimeout = time.Second

	// DefaultMaxRetries is the number of consecutive receive timeouts that fail a phase.
	DefaultMaxRetries = 3
)

// Option is a functional option for configuring an Updater.
type Option func(*Updater)

// WithChunkSize sets the number of image bytes sent before polling for status.
func WithChunkSize(size int) Option {
	return func(u *Updater) {
		u.chunkSize = size
	}
}

// WithPollInterval sets the delay between status reads.
func WithPollInterval(d time.Duration) Option {
	return func(u *Updater) {
		u.pollInterval = d
	}
}

// WithPhaseTimeout sets the wait budget for a terminal status. During the
// transfer it applies to each image report.
func WithPhaseTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.phaseTimeout = d
	}
}

// WithReceiveTimeout sets the timeout of a single status read.
func WithReceiveTimeout(d time.Duration) Option {
	return func(u *Updater) {
		u.receiveTimeout = d
	}
}

// WithMaxRetries sets how many consecutive receive timeouts fail a phase.
func WithMaxRetries(n int) Option {
	return func(u *Updater) {
		u.maxRetries = n
	}
}

// WithStrictVerify turns a benign verify mismatch into a failure.
func WithStrictVerify(strict bool) Option {
	return func(u *Updater) {
		u.strictVerify = strict
	}
}

// WithInfoQuery enables the Info phase at the start of Run.
func WithInfoQuery(enabled bool) Option {
	return func(u *Updater) {
		u.queryInfo = enabled
	}
}

// WithCurrentVersion supplies the firmware version the controller is known to
// run, read beforehand with ReadInfo. Run then skips the Info phase.
func WithCurrentVersion(version uint16) Option {
	return func(u *Updater) {
		u.currentVersion = version
		u.currentVersionKnown = true
	}
}

// WithObserver registers an observer. It may be given more than once.
func WithObserver(o Observer) Option {
	return func(u *Updater) {
		if o != nil {
			u.observers = append(u.observers, o)
		}
	}
}
