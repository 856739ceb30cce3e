// SPDX-License-Identifier: GPL-3.0-only

package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	minFirmwareInfoReport  = 20
	minFirmwareInfoPayload = 47
	infoVersionOffset      = 44
)

// ErrFirmwareInfoTooShort is returned when a firmware info report is truncated.
var ErrFirmwareInfoTooShort = errors.New("firmware info report too short")

// FirmwareInfo describes the firmware currently running on the controller.
type FirmwareInfo struct {
	BuildDate string
	BuildTime string
	Version   uint16
	Raw       []byte
}

// ParseFirmwareInfo decodes a ReportFirmwareInfo feature report.
func ParseFirmwareInfo(raw []byte) (*FirmwareInfo, error) {
	if len(raw) < minFirmwareInfoReport {
		return nil, fmt.Errorf("%w: %d bytes", ErrFirmwareInfoTooShort, len(raw))
	}

	payload := raw
	if len(raw) > FirmwareInfoReportSize && raw[0] == ReportFirmwareInfo {
		payload = raw[1:]
	}
	if len(payload) < minFirmwareInfoPayload {
		return nil, fmt.Errorf("%w: payload is %d bytes", ErrFirmwareInfoTooShort, len(payload))
	}

	return &FirmwareInfo{
		BuildDate: decodeASCII(payload[:12]),
		BuildTime: decodeASCII(payload[12:20]),
		Version:   binary.LittleEndian.Uint16(payload[infoVersionOffset:]),
		Raw:       raw,
	}, nil
}

// decodeASCII returns the bytes up to the first NUL as a string.
func decodeASCII(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return string(bytes.ToValidUTF8(data, []byte("�")))
}
