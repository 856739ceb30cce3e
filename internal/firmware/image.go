// SPDX-License-Identifier: GPL-3.0-only

// Package firmware loads DualSense firmware images and plans their transfer
// to the controller in fixed-size chunks.
package firmware

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

const (
	// HeaderSize is the number of leading image bytes sent with StartUpdate.
	HeaderSize = 256

	// VersionOffset is the offset of the little-endian firmware version inside the image.
	VersionOffset = 0x78
)

// ErrImage is the category of every image loading or validation failure.
var ErrImage = errors.New("firmware image error")

var (
	// ErrEmptyImage is returned when the image contains no bytes.
	ErrEmptyImage = fmt.Errorf("%w: image is empty", ErrImage)

	// ErrImageTooSmall is returned when the image is too short to carry a version.
	ErrImageTooSmall = fmt.Errorf("%w: image is too small to read version", ErrImage)

	// ErrImageTooSmallForHeader is returned when the image is shorter than HeaderSize.
	ErrImageTooSmallForHeader = fmt.Errorf("%w: image must be at least %d bytes", ErrImage, HeaderSize)
)

// Image is an immutable firmware blob. The bytes are the wire payload as-is.
type Image struct {
	path string
	data []byte
}

// Load reads the firmware image at path.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrImage, path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptyImage)
	}
	return &Image{path: path, data: data}, nil
}

// New builds an Image from an in-memory copy of data.
func New(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Image{data: buf}, nil
}

// Path returns the file the image was loaded from, if any.
func (i *Image) Path() string {
	return i.path
}

// Len returns the image length in bytes.
func (i *Image) Len() int {
	return len(i.data)
}

// Bytes returns the image contents. Callers must not modify the returned slice.
func (i *Image) Bytes() []byte {
	return i.data
}

// Header returns the first HeaderSize bytes, the payload of StartUpdate.
func (i *Image) Header() ([]byte, error) {
	if len(i.data) < HeaderSize {
		return nil, ErrImageTooSmallForHeader
	}
	return i.data[:HeaderSize], nil
}

// Version returns the firmware version embedded in the image.
func (i *Image) Version() (uint16, error) {
	if len(i.data) < VersionOffset+2 {
		return 0, ErrImageTooSmall
	}
	return binary.LittleEndian.Uint16(i.data[VersionOffset:]), nil
}
