// Package udev waits for a controller to be plugged in via netlink/udev events.
package udev

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pilebones/go-udev/netlink"
	"github.com/rs/zerolog/log"
)

const (
	// netlinkBufferSize is the receive buffer size for the netlink socket.
	// A larger buffer prevents ENOBUFS errors during USB hot-plug events.
	netlinkBufferSize = 2 * 1024 * 1024 // 2 MB
)

// ErrWaitTimeout is returned when the controller does not show up in time.
var ErrWaitTimeout = errors.New("timed out waiting for controller")

// EventType represents the type of device event.
type EventType int

const (
	// EventAdd indicates a device was connected.
	EventAdd EventType = iota
	// EventRemove indicates a device was disconnected.
	EventRemove
)

// Event represents a device hot-plug event.
type Event struct {
	Type    EventType
	Product string
}

// EventHandler is called when a device event occurs.
type EventHandler func(event Event)

// RecoveryHandler is called when the monitor recovers from an error condition
// (e.g., netlink buffer overflow) and events may have been lost.
type RecoveryHandler func()

// Monitor watches for connect/disconnect events of one USB VID/PID.
type Monitor struct {
	vendorID        uint16
	productID       uint16
	conn            *netlink.UEventConn
	handler         EventHandler
	recoveryHandler RecoveryHandler
	quit            chan struct{}
	stopped         bool
	mu              sync.Mutex
}

// NewMonitor creates a new udev monitor for vendorID/productID.
func NewMonitor(vendorID, productID uint16, handler EventHandler) *Monitor {
	return &Monitor{
		vendorID:  vendorID,
		productID: productID,
		handler:   handler,
	}
}

// SetRecoveryHandler sets the handler called when the monitor recovers from errors.
func (m *Monitor) SetRecoveryHandler(handler RecoveryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveryHandler = handler
}

// Start begins monitoring for device events.
// This method is non-blocking; events are processed in a background goroutine.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn != nil {
		return fmt.Errorf("monitor already started")
	}

	m.conn = &netlink.UEventConn{}
	if err := m.conn.Connect(netlink.UdevEvent); err != nil {
		m.conn = nil
		return fmt.Errorf("failed to connect to netlink: %w", err)
	}

	if err := setSocketBufferSize(m.conn.Fd, netlinkBufferSize); err != nil {
		log.Warn().Err(err).Int("size", netlinkBufferSize).Msg("Failed to set netlink buffer size")
	} else {
		log.Debug().Int("size", netlinkBufferSize).Msg("Netlink socket buffer size configured")
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.quit = m.conn.Monitor(queue, errs, m.createMatcher())
	m.stopped = false

	go m.processEvents(queue, errs)

	log.Debug().Str("product", productValue(m.vendorID, m.productID)).Msg("udev monitor started")
	return nil
}

// Stop stops the monitor and releases resources.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.stopped {
		return nil
	}

	m.stopped = true

	select {
	case m.quit <- struct{}{}:
	default:
	}

	if err := m.conn.Close(); err != nil {
		return fmt.Errorf("failed to close netlink connection: %w", err)
	}

	m.conn = nil
	log.Debug().Msg("udev monitor stopped")
	return nil
}

// createMatcher matches add/remove actions of the monitored USB device.
// The PRODUCT env var format is "vendorId/productId/bcdDevice" in lowercase hex
// without leading zeros (e.g. "54c/ce6/100"); some kernels pad or capitalise it.
func (m *Monitor) createMatcher() *netlink.RuleDefinitions {
	rules := &netlink.RuleDefinitions{}

	productPattern := fmt.Sprintf("(?i)^0*%x/0*%x/[^/]+$", m.vendorID, m.productID)

	for _, action := range []string{"add", "remove"} {
		rules.AddRule(netlink.RuleDefinition{
			Action: &action,
			Env: map[string]string{
				"SUBSYSTEM": "^usb$",
				"PRODUCT":   productPattern,
			},
		})
	}

	return rules
}

// processEvents handles incoming udev events.
func (m *Monitor) processEvents(queue chan netlink.UEvent, errs chan error) {
	for {
		select {
		case event, ok := <-queue:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-errs:
			if !ok {
				return
			}
			m.mu.Lock()
			stopped := m.stopped
			recoveryHandler := m.recoveryHandler
			m.mu.Unlock()
			if stopped {
				return
			}

			if isBufferOverflowError(err) {
				log.Warn().Msg("Netlink buffer overflow detected, triggering recovery")
				if recoveryHandler != nil {
					go recoveryHandler()
				}
				continue
			}

			log.Error().Err(err).Msg("udev monitor error")
		}
	}
}

// setSocketBufferSize sets the receive buffer size for a socket.
// It first tries SO_RCVBUFFORCE (requires CAP_NET_ADMIN), then falls back to SO_RCVBUF.
func setSocketBufferSize(fd int, size int) error {
	err := syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUFFORCE, size)
	if err == nil {
		return nil
	}
	return syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, size)
}

// isBufferOverflowError checks if the error is a netlink buffer overflow (ENOBUFS).
func isBufferOverflowError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOBUFS) {
		return true
	}
	// The udev library does not always wrap the errno.
	return strings.Contains(strings.ToLower(err.Error()), "no buffer space available")
}

// handleEvent processes a single udev event.
func (m *Monitor) handleEvent(uevent netlink.UEvent) {
	// Only usb_device, not usb_interface. DEVTYPE may be missing on REMOVE.
	devtype := uevent.Env["DEVTYPE"]
	if uevent.Action == netlink.ADD && devtype != "usb_device" {
		return
	}

	product := uevent.Env["PRODUCT"]
	log.Debug().
		Str("action", string(uevent.Action)).
		Str("devpath", uevent.KObj).
		Str("product", product).
		Msg("USB device event")

	var eventType EventType
	switch uevent.Action {
	case netlink.ADD:
		eventType = EventAdd
		log.Info().Str("product", product).Msg("Controller connected")
	case netlink.REMOVE:
		eventType = EventRemove
		log.Info().Str("product", product).Msg("Controller disconnected")
	default:
		return
	}

	if m.handler != nil {
		m.handler(Event{Type: eventType, Product: product})
	}
}

// Forward returns an EventHandler that sends add events to ch, dropping
// them when ch is full.
func Forward(ch chan<- Event) EventHandler {
	return func(event Event) {
		if event.Type != EventAdd {
			return
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// WaitForDevice returns once present reports true. present is checked
// immediately and again after each add event, once settle has passed so the
// HID interface can enumerate. It fails with ErrWaitTimeout when ctx expires.
func WaitForDevice(ctx context.Context, events <-chan Event, present func() bool, settle time.Duration) error {
	if present() {
		return nil
	}

	log.Info().Msg("Waiting for controller to be connected")
	for {
		select {
		case <-ctx.Done():
			return waitError(ctx)
		case <-events:
		}

		timer := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return waitError(ctx)
		case <-timer.C:
		}

		if present() {
			return nil
		}
		log.Debug().Msg("Add event seen but controller is not enumerable yet")
	}
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrWaitTimeout
	}
	return ctx.Err()
}

func productValue(vendorID, productID uint16) string {
	return fmt.Sprintf("%x/%x", vendorID, productID)
}
