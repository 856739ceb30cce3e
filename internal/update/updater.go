// SPDX-License-Identifier: GPL-3.0-only

// Package update drives the DualSense firmware update handshake.
package update

//go:generate mockgen -source=updater.go -destination=mocks/channel_mock.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/dualsense-updater/internal/firmware"
	"github.com/shini4i/dualsense-updater/internal/protocol"
)

// Channel is the report transport to one controller.
type Channel interface {
	// Send writes one feature report.
	Send(ctx context.Context, report []byte) error

	// Receive reads feature report reportID. It returns an error matching
	// os.ErrDeadlineExceeded when nothing is read within timeout.
	Receive(ctx context.Context, reportID byte, timeout time.Duration) ([]byte, error)
}

// Updater runs the update state machine against one controller.
// It is the only component that sequences protocol commands.
type Updater struct {
	ch Channel

	chunkSize      int
	pollInterval   time.Duration
	phaseTimeout   time.Duration
	receiveTimeout time.Duration
	maxRetries     int
	strictVerify   bool
	queryInfo      bool
	observers      []Observer

	currentVersion      uint16
	currentVersionKnown bool

	running atomic.Bool
}

// New creates an Updater that owns ch for the duration of each operation.
func New(ch Channel, opts ...Option) *Updater {
	u := &Updater{
		ch:             ch,
		chunkSize:      DefaultChunkSize,
		pollInterval:   DefaultPollInterval,
		phaseTimeout:   DefaultPhaseTimeout,
		receiveTimeout: DefaultReceiveTimeout,
		maxRetries:     DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.maxRetries < 1 {
		u.maxRetries = 1
	}
	return u
}

// Run flashes image: Info (optional), Start, Transfer, Verify, Finalize.
// The returned Result is non-nil unless the error is ErrBusy.
func (u *Updater) Run(ctx context.Context, image *firmware.Image) (*Result, error) {
	if !u.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer u.running.Store(false)

	s := newSession()
	res := &Result{}

	header, err := image.Header()
	if err != nil {
		return u.fail(s, res, err)
	}
	plan, err := firmware.NewPlan(image, u.chunkSize)
	if err != nil {
		return u.fail(s, res, err)
	}
	res.TotalChunks = plan.Count()
	res.ImageVersion, _ = image.Version()

	switch {
	case u.currentVersionKnown:
		res.CurrentVersion = u.currentVersion
		res.CurrentVersionKnown = true
		res.InfoSkipped = true
		u.emit(Event{Kind: EventPhaseSkipped, Phase: PhaseInfo, TotalChunks: res.TotalChunks})
	case u.queryInfo:
		u.enter(s, PhaseInfo)
		info, err := u.ReadInfo(ctx)
		switch {
		case ctx.Err() != nil:
			return u.fail(s, res, ctx.Err())
		case err != nil:
			u.warn(s, fmt.Errorf("could not read firmware info: %w", err))
		default:
			res.CurrentVersion = info.Version
			res.CurrentVersionKnown = true
			log.Debug().
				Str("current", fmt.Sprintf("0x%04x", info.Version)).
				Str("image", fmt.Sprintf("0x%04x", res.ImageVersion)).
				Msg("Firmware versions")
		}
	default:
		res.InfoSkipped = true
		u.emit(Event{Kind: EventPhaseSkipped, Phase: PhaseInfo, TotalChunks: res.TotalChunks})
	}

	if err := u.start(ctx, s, header); err != nil {
		return u.fail(s, res, err)
	}
	if err := u.transfer(ctx, s, plan); err != nil {
		return u.fail(s, res, err)
	}
	if err := u.settle(s, res, u.verify(ctx, s)); err != nil {
		return u.fail(s, res, err)
	}
	if err := u.settle(s, res, u.finalize(ctx, s)); err != nil {
		return u.fail(s, res, err)
	}

	s.phase = PhaseCompleted
	s.fill(res)
	res.Phase = PhaseCompleted
	log.Debug().Int("chunks", res.ChunksSent).Int("warnings", len(res.Warnings)).Msg("Update completed")
	u.emit(Event{Kind: EventFinished, Phase: PhaseCompleted, ChunksSent: res.ChunksSent, TotalChunks: res.TotalChunks, Result: res})
	return res, nil
}

// ReadInfo reads the firmware info report.
func (u *Updater) ReadInfo(ctx context.Context) (*protocol.FirmwareInfo, error) {
	raw, err := u.ch.Receive(ctx, protocol.ReportFirmwareInfo, u.receiveTimeout)
	if err != nil {
		if isReceiveTimeout(err) {
			return nil, fmt.Errorf("%w: firmware info: %w", ErrTimeout, err)
		}
		return nil, channelError(ctx, err)
	}

	info, err := protocol.ParseFirmwareInfo(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChannel, err)
	}
	return info, nil
}

// StartUpdate runs only the Start phase with the header of image.
func (u *Updater) StartUpdate(ctx context.Context, image *firmware.Image) error {
	return u.step(func(s *session) error {
		header, err := image.Header()
		if err != nil {
			return err
		}
		return u.start(ctx, s, header)
	})
}

// WriteImage runs only the Transfer phase with image.
func (u *Updater) WriteImage(ctx context.Context, image *firmware.Image) error {
	return u.step(func(s *session) error {
		plan, err := firmware.NewPlan(image, u.chunkSize)
		if err != nil {
			return err
		}
		return u.transfer(ctx, s, plan)
	})
}

// VerifyImage runs only the Verify phase. Device rejections are returned as is.
func (u *Updater) VerifyImage(ctx context.Context) error {
	return u.step(func(s *session) error {
		return u.verify(ctx, s)
	})
}

// FinalizeUpdate runs only the Finalize phase.
func (u *Updater) FinalizeUpdate(ctx context.Context) error {
	return u.step(func(s *session) error {
		return u.finalize(ctx, s)
	})
}

func (u *Updater) step(fn func(s *session) error) error {
	if !u.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer u.running.Store(false)

	s := newSession()
	if err := fn(s); err != nil {
		return u.phaseError(s, err)
	}
	return nil
}

func (u *Updater) start(ctx context.Context, s *session, header []byte) error {
	u.enter(s, PhaseStartPending)
	_, err := u.exchange(ctx, s, protocol.CommandStartUpdate, header)
	return err
}

func (u *Updater) transfer(ctx context.Context, s *session, plan *firmware.Plan) error {
	u.enter(s, PhaseTransferring)
	for chunk := range plan.All() {
		s.dataSent = true
		if _, err := u.exchange(ctx, s, protocol.CommandWriteUpdateImage, chunk.Data); err != nil {
			return err
		}
		s.chunksSent++
		log.Trace().Int("chunk", chunk.Index).Int("offset", chunk.Offset).Int("len", chunk.Len()).Msg("Chunk accepted")
		u.emit(Event{
			Kind:        EventChunk,
			Phase:       PhaseTransferring,
			ChunksSent:  s.chunksSent,
			TotalChunks: plan.Count(),
			Status:      s.lastStatus,
		})
	}
	s.committed = true
	return nil
}

func (u *Updater) verify(ctx context.Context, s *session) error {
	u.enter(s, PhaseVerifying)
	_, err := u.exchange(ctx, s, protocol.CommandVerifyUpdate, nil)
	return err
}

func (u *Updater) finalize(ctx context.Context, s *session) error {
	u.enter(s, PhaseFinalizing)
	_, err := u.exchange(ctx, s, protocol.CommandFinalizeUpdate, nil)
	return err
}

// exchange sends cmd with payload and polls until the controller reports a
// terminal status for it. Image data is acknowledged report by report: the
// next WriteUpdateImage report is only sent once the previous one succeeded.
// Other commands are polled once, after their last report.
func (u *Updater) exchange(ctx context.Context, s *session, cmd protocol.Command, payload []byte) (protocol.Status, error) {
	reports := protocol.EncodeCommand(cmd, payload)

	var status protocol.Status
	for i, report := range reports {
		if err := ctx.Err(); err != nil {
			return s.lastStatus, err
		}
		if err := u.ch.Send(ctx, report); err != nil {
			return s.lastStatus, channelError(ctx, err)
		}
		if cmd != protocol.CommandWriteUpdateImage && i < len(reports)-1 {
			continue
		}

		var err error
		if status, err = u.poll(ctx, s, cmd); err != nil {
			return status, err
		}
	}
	return status, nil
}

func (u *Updater) poll(ctx context.Context, s *session, cmd protocol.Command) (protocol.Status, error) {
	deadline := time.Now().Add(u.phaseTimeout)
	timeouts := 0

	for {
		raw, err := u.ch.Receive(ctx, protocol.ReportUpdateStatus, u.receiveTimeout)
		switch {
		case err == nil:
			timeouts = 0
			status, err := protocol.Interpret(raw)
			if err != nil {
				return protocol.Status{}, fmt.Errorf("%w: %w", ErrChannel, err)
			}
			s.lastStatus = status

			switch {
			case status.Command == protocol.CommandUnknown:
				return status, fmt.Errorf("unexpected status echo 0x%02x while waiting for %s: %w",
					raw[1], cmd, &DeviceError{Command: cmd, Code: status.Code})
			case status.Command != cmd:
				log.Trace().Stringer("status", status).Stringer("expected", cmd).Msg("Status for another command")
			case status.Kind == protocol.KindSuccess:
				return status, nil
			case status.Kind == protocol.KindError:
				return status, &DeviceError{Command: cmd, Code: status.Code}
			default:
				log.Trace().Stringer("status", status).Msg("Command in progress")
			}
		case isReceiveTimeout(err):
			timeouts++
			s.retries[s.phase]++
			log.Debug().Stringer("phase", s.phase).Int("attempt", timeouts).Int("max", u.maxRetries).Msg("Status read timed out")
			if timeouts >= u.maxRetries {
				return s.lastStatus, fmt.Errorf("%w: %d consecutive status reads timed out", ErrTimeout, timeouts)
			}
		default:
			return protocol.Status{}, channelError(ctx, err)
		}

		if time.Now().After(deadline) {
			return s.lastStatus, fmt.Errorf("%w: no result for %s within %s", ErrTimeout, cmd, u.phaseTimeout)
		}

		timer := time.NewTimer(u.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.lastStatus, ctx.Err()
		case <-timer.C:
		}
	}
}

// settle downgrades a rejection or a timeout to a warning when the controller
// already runs the image version.
func (u *Updater) settle(s *session, res *Result, err error) error {
	if err == nil || !benign(res, err) {
		return err
	}

	mismatch := fmt.Errorf("%w: %w", ErrBenignVerifyMismatch, err)
	if u.strictVerify {
		return mismatch
	}
	u.warn(s, mismatch)
	return nil
}

func benign(res *Result, err error) bool {
	var devErr *DeviceError
	sameVersion := res.CurrentVersionKnown && res.CurrentVersion == res.ImageVersion

	switch {
	case errors.As(err, &devErr):
		return sameVersion ||
			(devErr.Command == protocol.CommandVerifyUpdate && devErr.Code == protocol.VerifyHeaderVersionCheckError)
	case errors.Is(err, ErrTimeout):
		return sameVersion
	default:
		return false
	}
}

func (u *Updater) enter(s *session, phase Phase) {
	s.phase = phase
	log.Debug().Stringer("phase", phase).Msg("Entering phase")
	u.emit(Event{Kind: EventPhase, Phase: phase, ChunksSent: s.chunksSent})
}

func (u *Updater) warn(s *session, err error) {
	s.warnings = append(s.warnings, err)
	log.Warn().Err(err).Stringer("phase", s.phase).Msg("Update warning")
	u.emit(Event{Kind: EventWarning, Phase: s.phase, ChunksSent: s.chunksSent, Err: err})
}

func (u *Updater) phaseError(s *session, err error) *PhaseError {
	chunk := -1
	if s.phase == PhaseTransferring {
		chunk = s.chunksSent
	}
	return &PhaseError{
		Phase:      s.phase,
		Chunk:      chunk,
		Status:     s.lastStatus,
		PostCommit: s.committed,
		Err:        err,
	}
}

func (u *Updater) fail(s *session, res *Result, err error) (*Result, error) {
	phaseErr := u.phaseError(s, err)
	s.fill(res)
	res.Phase = PhaseFailed
	res.FailedPhase = s.phase
	res.Err = phaseErr

	log.Debug().Err(err).Stringer("phase", s.phase).Bool("committed", s.committed).Msg("Update failed")
	u.emit(Event{
		Kind:        EventFinished,
		Phase:       PhaseFailed,
		ChunksSent:  res.ChunksSent,
		TotalChunks: res.TotalChunks,
		Status:      res.LastStatus,
		Err:         phaseErr,
		Result:      res,
	})
	return res, phaseErr
}

func (u *Updater) emit(ev Event) {
	for _, o := range u.observers {
		o(ev)
	}
}
