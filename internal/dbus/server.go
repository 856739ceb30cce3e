// SPDX-License-Identifier: GPL-3.0-only

// Package dbus publishes firmware update progress on the D-Bus session bus.
package dbus

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/shini4i/dualsense-updater/internal/update"
)

const (
	// progressSignalsPerSecond is the maximum number of Progress signals per second.
	progressSignalsPerSecond = 10

	// progressSignalBurst is the maximum burst size for Progress signals.
	progressSignalBurst = 1
)

const (
	// ServiceName is the D-Bus service name.
	ServiceName = "io.github.shini4i.DualSenseUpdater"

	// ObjectPath is the D-Bus object path.
	ObjectPath = "/io/github/shini4i/DualSenseUpdater"

	// InterfaceName is the D-Bus interface name.
	InterfaceName = "io.github.shini4i.DualSenseUpdater"
)

// IntrospectXML is the D-Bus introspection XML for the service.
const IntrospectXML = `
<node name="` + ObjectPath + `">
  <interface name="` + InterfaceName + `">
    <method name="GetState">
      <arg name="phase" type="s" direction="out"/>
      <arg name="sent" type="u" direction="out"/>
      <arg name="total" type="u" direction="out"/>
    </method>
    <signal name="PhaseChanged">
      <arg name="phase" type="s"/>
    </signal>
    <signal name="Progress">
      <arg name="sent" type="u"/>
      <arg name="total" type="u"/>
    </signal>
    <signal name="Finished">
      <arg name="success" type="b"/>
      <arg name="message" type="s"/>
    </signal>
  </interface>
  ` + introspect.IntrospectDataString + `
</node>
`

// emitter is the signal side of *dbus.Conn.
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Server exports the state of a running update and emits signals as it advances.
type Server struct {
	conn    *dbus.Conn
	emitter emitter
	connMu  sync.RWMutex // Protects conn and emitter

	progressLimiter *rate.Limiter

	stateMu sync.RWMutex
	phase   update.Phase
	sent    uint32
	total   uint32
}

// NewServer creates a new D-Bus server.
func NewServer() *Server {
	return &Server{
		progressLimiter: rate.NewLimiter(progressSignalsPerSecond, progressSignalBurst),
	}
}

// Start connects to the session bus and exports the service.
func (s *Server) Start() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("failed to connect to session bus: %w", err)
	}

	// Ensure connection is closed if setup fails
	success := false
	defer func() {
		if !success {
			if closeErr := conn.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("Failed to close D-Bus connection during cleanup")
			}
		}
	}()

	if err := conn.Export(s, ObjectPath, InterfaceName); err != nil {
		return fmt.Errorf("failed to export server: %w", err)
	}

	err = conn.Export(introspect.Introspectable(IntrospectXML), ObjectPath, "org.freedesktop.DBus.Introspectable")
	if err != nil {
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("name %s already taken", ServiceName)
	}

	s.connMu.Lock()
	s.conn = conn
	s.emitter = conn
	s.connMu.Unlock()

	success = true
	log.Info().Str("service", ServiceName).Msg("D-Bus service started")
	return nil
}

// Stop disconnects from the session bus.
func (s *Server) Stop() error {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.emitter = nil
	s.connMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// GetState returns the current phase and transfer progress.
func (s *Server) GetState() (string, uint32, uint32, *dbus.Error) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.phase.String(), s.sent, s.total, nil
}

// Observe implements update.Observer.
func (s *Server) Observe(ev update.Event) {
	switch ev.Kind {
	case update.EventPhase:
		s.setState(ev)
		s.emit("PhaseChanged", ev.Phase.String())

	case update.EventChunk:
		s.setState(ev)
		// The final chunk is always reported.
		if s.progressLimiter.Allow() || ev.ChunksSent == ev.TotalChunks {
			s.emit("Progress", toUint32(ev.ChunksSent), toUint32(ev.TotalChunks))
		}

	case update.EventFinished:
		s.setState(ev)
		s.emit("PhaseChanged", ev.Phase.String())

		message := "firmware update completed"
		if ev.Err != nil {
			message = ev.Err.Error()
		}
		s.emit("Finished", ev.Phase == update.PhaseCompleted, message)
	}
}

func (s *Server) setState(ev update.Event) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.phase = ev.Phase
	s.sent = toUint32(ev.ChunksSent)
	if ev.TotalChunks > 0 {
		s.total = toUint32(ev.TotalChunks)
	}
}

func (s *Server) emit(signal string, values ...interface{}) {
	s.connMu.RLock()
	e := s.emitter
	s.connMu.RUnlock()

	if e == nil {
		return
	}

	if err := e.Emit(ObjectPath, InterfaceName+"."+signal, values...); err != nil {
		log.Error().Err(err).Str("signal", signal).Msg("Failed to emit signal")
	}
}

func toUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	// #nosec G115 -- chunk counts are far below 2^32
	return uint32(n)
}
