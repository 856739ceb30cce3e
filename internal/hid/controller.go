// SPDX-License-Identifier: GPL-3.0-only

package hid

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shini4i/dualsense-updater/internal/protocol"
)

// ErrControllerClosed is returned when an operation is attempted on a closed controller.
var ErrControllerClosed = errors.New("controller is closed")

// ErrReceiveTimeout is returned when a feature report is not read in time.
// It matches os.ErrDeadlineExceeded.
var ErrReceiveTimeout = fmt.Errorf("receive timed out: %w", os.ErrDeadlineExceeded)

// Controller is the update channel to one DualSense controller.
// It owns the device exclusively; only one report exchange is in flight at a time.
type Controller struct {
	device Device
	// slot holds a token while a device call is running.
	slot   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewController creates a new Controller wrapping the given HID device.
func NewController(device Device) *Controller {
	return &Controller{
		device: device,
		slot:   make(chan struct{}, 1),
	}
}

// Info returns information about the underlying device.
// This method does not require locking as device info is immutable.
func (c *Controller) Info() DeviceInfo {
	return c.device.Info()
}

// Send writes one feature report to the controller.
func (c *Controller) Send(ctx context.Context, report []byte) error {
	if err := c.acquire(ctx, nil); err != nil {
		return err
	}
	defer c.release()

	if c.isClosed() {
		return ErrControllerClosed
	}

	if _, err := c.device.SendFeatureReport(report); err != nil {
		return fmt.Errorf("failed to send feature report: %w", err)
	}

	if len(report) >= 3 {
		log.Trace().
			Str("report", fmt.Sprintf("0x%02x", report[0])).
			Int("len", int(report[2])).
			Hex("first4", report[3:min(len(report), 7)]).
			Msg("Sent feature report")
	}
	return nil
}

// Receive reads the feature report reportID, giving up after timeout.
// A read that is abandoned on timeout still finishes in the background and
// holds the device until it returns.
func (c *Controller) Receive(ctx context.Context, reportID byte, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if err := c.acquire(ctx, timer.C); err != nil {
		return nil, err
	}
	if c.isClosed() {
		c.release()
		return nil, ErrControllerClosed
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer c.release()

		buf := make([]byte, reportLength(reportID))
		buf[0] = reportID
		n, err := c.device.GetFeatureReport(buf)
		if err != nil {
			done <- result{err: fmt.Errorf("failed to get feature report 0x%02x: %w", reportID, err)}
			return
		}
		done <- result{data: buf[:n]}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			log.Trace().Hex("raw", r.data).Msg("Received feature report")
		}
		return r.data, r.err
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes the underlying HID device.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil // Already closed
	}

	c.closed = true
	return c.device.Close()
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) acquire(ctx context.Context, timeout <-chan time.Time) error {
	select {
	case c.slot <- struct{}{}:
		return nil
	case <-timeout:
		return ErrReceiveTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() {
	<-c.slot
}

func reportLength(reportID byte) int {
	switch reportID {
	case protocol.ReportUpdateStatus:
		return protocol.StatusReportSize
	default:
		return protocol.FirmwareInfoReportSize
	}
}
