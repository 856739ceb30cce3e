// SPDX-License-Identifier: GPL-3.0-only

package update

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/shini4i/dualsense-updater/internal/firmware"
	"github.com/shini4i/dualsense-updater/internal/protocol"
)

var (
	// ErrChannel is returned when the device channel fails to send, receive or frame a report.
	ErrChannel = errors.New("device channel error")

	// ErrTimeout is returned when no terminal status is observed within a phase's budget.
	ErrTimeout = errors.New("timed out waiting for device status")

	// ErrBenignVerifyMismatch marks a verify or finalize rejection while the
	// controller is already on the image version.
	ErrBenignVerifyMismatch = errors.New("controller already runs the image version")

	// ErrBusy is returned when an operation is started while another one is running.
	ErrBusy = errors.New("an update operation is already running")
)

// DeviceError is a status code explicitly reported by the controller.
type DeviceError struct {
	Command protocol.Command
	Code    byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s failed with %s (0x%02x): %s",
		e.Command, protocol.CodeName(e.Command, e.Code), e.Code, protocol.CodeMessage(e.Command, e.Code))
}

// PhaseError is the terminal failure of a run.
type PhaseError struct {
	Phase Phase
	// Chunk is the index of the chunk being transferred, or -1 outside Transferring.
	Chunk  int
	Status protocol.Status
	// PostCommit is set when the failure happened after the whole image was accepted.
	PostCommit bool
	Err        error
}

func (e *PhaseError) Error() string {
	msg := fmt.Sprintf("%s phase failed", e.Phase)
	if e.Chunk >= 0 {
		msg = fmt.Sprintf("%s at chunk %d", msg, e.Chunk)
	}
	if e.PostCommit {
		msg += " after the image was committed"
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies an error returned by this package.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindImage
	KindChannel
	KindDevice
	KindTimeout
	KindCanceled
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindImage:
		return "image"
	case KindChannel:
		return "channel"
	case KindDevice:
		return "device"
	case KindTimeout:
		return "timeout"
	case KindCanceled:
		return "canceled"
	default:
		return "other"
	}
}

// KindOf returns the kind of err.
func KindOf(err error) ErrorKind {
	var devErr *DeviceError
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, firmware.ErrImage):
		return KindImage
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.As(err, &devErr):
		return KindDevice
	case errors.Is(err, ErrChannel):
		return KindChannel
	default:
		return KindOther
	}
}

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitImage    = 2
	ExitInfo     = 3
	ExitStart    = 4
	ExitTransfer = 5
	ExitVerify   = 6
	ExitFinalize = 7
	ExitTimeout  = 8
	ExitChannel  = 9
)

// ExitCode maps err to a process exit code. Failures of an explicit info
// query map to ExitInfo whatever their kind.
func ExitCode(err error) int {
	var phaseErr *PhaseError
	kind := KindOf(err)
	if kind != KindImage && kind != KindCanceled && errors.As(err, &phaseErr) && phaseErr.Phase == PhaseInfo {
		return ExitInfo
	}

	switch kind {
	case KindNone:
		return ExitOK
	case KindImage:
		return ExitImage
	case KindTimeout:
		return ExitTimeout
	case KindChannel:
		return ExitChannel
	case KindCanceled:
		return ExitFailure
	}

	if !errors.As(err, &phaseErr) {
		return ExitFailure
	}
	switch phaseErr.Phase {
	case PhaseStartPending:
		return ExitStart
	case PhaseTransferring:
		return ExitTransfer
	case PhaseVerifying:
		return ExitVerify
	case PhaseFinalizing:
		return ExitFinalize
	default:
		return ExitFailure
	}
}

func isReceiveTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// channelError wraps a transport failure, leaving cancellation untouched.
func channelError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrChannel, err)
}
