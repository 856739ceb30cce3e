// SPDX-License-Identifier: GPL-3.0-only

// Package protocol implements the DualSense firmware update wire format:
// report IDs, command framing and status report decoding.
package protocol

import "fmt"

const (
	// ReportFirmwareInfo is the feature report carrying build date, time and version.
	ReportFirmwareInfo byte = 0x20

	// ReportUpdateCommand is the feature report used to send update commands.
	ReportUpdateCommand byte = 0xF4

	// ReportUpdateStatus is the feature report polled for update status.
	ReportUpdateStatus byte = 0xF5

	// FirmwareInfoReportSize is the buffer size requested for ReportFirmwareInfo.
	FirmwareInfoReportSize = 64

	// StatusReportSize is the size of a ReportUpdateStatus report.
	StatusReportSize = 4

	// MaxReportPayload is the number of data bytes one command report can carry.
	MaxReportPayload = 0x39

	// commandHeaderSize covers report ID, command and length bytes.
	commandHeaderSize = 3
)

// Command identifies an update step.
type Command byte

// Update commands understood by the controller.
const (
	CommandStartUpdate      Command = 0x00
	CommandWriteUpdateImage Command = 0x01
	CommandVerifyUpdate     Command = 0x02
	CommandFinalizeUpdate   Command = 0x03
	CommandUnknown          Command = 0xFF
)

// ParseCommand maps a raw byte to a known Command or CommandUnknown.
func ParseCommand(b byte) Command {
	switch Command(b) {
	case CommandStartUpdate, CommandWriteUpdateImage, CommandVerifyUpdate, CommandFinalizeUpdate:
		return Command(b)
	default:
		return CommandUnknown
	}
}

// String returns the vendor name of the command.
func (c Command) String() string {
	switch c {
	case CommandStartUpdate:
		return "StartUpdate"
	case CommandWriteUpdateImage:
		return "WriteUpdateImage"
	case CommandVerifyUpdate:
		return "VerifyUpdateImage"
	case CommandFinalizeUpdate:
		return "FinalizeUpdate"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(c))
	}
}

// EncodeCommand frames payload into one or more ReportUpdateCommand reports.
// Each report is [report ID, command, data length, data...] with at most
// MaxReportPayload data bytes. An empty payload still produces one report.
func EncodeCommand(cmd Command, payload []byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{ReportUpdateCommand, byte(cmd), 0}}
	}

	reports := make([][]byte, 0, (len(payload)+MaxReportPayload-1)/MaxReportPayload)
	for off := 0; off < len(payload); off += MaxReportPayload {
		end := min(off+MaxReportPayload, len(payload))
		report := make([]byte, 0, commandHeaderSize+end-off)
		// #nosec G115 -- end-off is at most MaxReportPayload
		report = append(report, ReportUpdateCommand, byte(cmd), byte(end-off))
		report = append(report, payload[off:end]...)
		reports = append(reports, report)
	}
	return reports
}
