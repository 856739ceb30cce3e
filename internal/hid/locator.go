// SPDX-License-Identifier: GPL-3.0-only

package hid

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

var (
	// ErrDeviceNotFound is returned when no device matches the requested VID/PID.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrPathNotFound is returned when no device matches an explicit path.
	ErrPathNotFound = errors.New("no device path matched")
)

// Locator resolves a VID/PID pair or an explicit path to one HID device.
type Locator struct {
	enumerator DeviceEnumerator
	opener     DeviceOpener
}

// LocatorOption is a functional option for configuring a Locator.
type LocatorOption func(*Locator)

// WithEnumerator sets a custom device enumerator for testing.
func WithEnumerator(fn DeviceEnumerator) LocatorOption {
	return func(l *Locator) {
		l.enumerator = fn
	}
}

// WithOpener sets a custom device opener for testing.
func WithOpener(fn DeviceOpener) LocatorOption {
	return func(l *Locator) {
		l.opener = fn
	}
}

// NewLocator creates a new device locator.
func NewLocator(opts ...LocatorOption) *Locator {
	l := &Locator{
		enumerator: Enumerate,
		opener:     OpenDevice,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List returns every device matching vendorID and productID and logs them at debug level.
func (l *Locator) List(vendorID, productID uint16) ([]DeviceInfo, error) {
	devices, err := l.enumerator(vendorID, productID)
	if err != nil {
		return nil, err
	}

	if len(devices) == 0 {
		log.Debug().
			Str("vid", fmt.Sprintf("%04x", vendorID)).
			Str("pid", fmt.Sprintf("%04x", productID)).
			Msg("No HID devices found")
	}
	for idx, d := range devices {
		log.Debug().
			Int("index", idx).
			Str("path", d.Path).
			Int("interface", d.Interface).
			Str("usage_page", fmt.Sprintf("0x%04x", d.UsagePage)).
			Str("usage", fmt.Sprintf("0x%04x", d.Usage)).
			Str("product", d.Product).
			Str("serial", d.Serial).
			Msg("HID device")
	}
	return devices, nil
}

// Find returns the device at path if path is set, otherwise the first
// device matching vendorID and productID.
func (l *Locator) Find(vendorID, productID uint16, path string) (DeviceInfo, error) {
	if path != "" {
		devices, err := l.enumerator(0, 0)
		if err != nil {
			return DeviceInfo{}, err
		}
		for _, d := range devices {
			if d.Path == path {
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}

	devices, err := l.List(vendorID, productID)
	if err != nil {
		return DeviceInfo{}, err
	}
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w for VID:PID %04x:%04x", ErrDeviceNotFound, vendorID, productID)
	}
	return devices[0], nil
}

// Open resolves and opens a device. See Find for the selection rules.
func (l *Locator) Open(vendorID, productID uint16, path string) (Device, error) {
	info, err := l.Find(vendorID, productID, path)
	if err != nil {
		return nil, err
	}

	device, err := l.opener(info)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", info.Path, err)
	}

	log.Info().Str("path", info.Path).Str("product", info.Product).Msg("Controller opened")
	return device, nil
}
