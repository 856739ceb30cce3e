// SPDX-License-Identifier: GPL-3.0-only

package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedStatus is returned when a status report cannot be framed.
var ErrMalformedStatus = errors.New("malformed update status report")

// Kind is the semantic outcome of a status report.
type Kind int

const (
	// KindIdle means no status has been observed yet. Interpret never returns it.
	KindIdle Kind = iota
	// KindInProgress means the last command is still being processed.
	KindInProgress
	// KindSuccess means the last command completed.
	KindSuccess
	// KindError means the device rejected the last command.
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindIdle:
		return "idle"
	case KindInProgress:
		return "in-progress"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// PercentUnknown marks a Status without progress information.
const PercentUnknown = -1

// Status is a decoded update status report.
type Status struct {
	Kind    Kind
	Command Command
	Code    byte
	// Percent is the device reported progress, or PercentUnknown.
	Percent int
}

func (s Status) String() string {
	switch s.Kind {
	case KindError:
		return fmt.Sprintf("%s error %s (0x%02x)", s.Command, CodeName(s.Command, s.Code), s.Code)
	case KindIdle:
		return "idle"
	default:
		return fmt.Sprintf("%s %s (0x%02x)", s.Command, s.Kind, s.Code)
	}
}

// Status codes reported for each command.
const (
	CodeSuccess byte = 0x00

	StartHeaderCmacCheckError      byte = 0x01
	StartHeaderVersionCheckError   byte = 0x02
	StartHeaderCapabilityInfoError byte = 0x03
	StartProcessing                byte = 0x04
	StartHeaderFlashEraseError     byte = 0x05
	StartHeaderInfoNotReceived     byte = 0x06
	StartRetry                     byte = 0x10
	StartHeaderCommonParamError    byte = 0x11

	WriteRetry                 byte = 0x01
	WriteFlashWriteError       byte = 0x02
	WriteSendNext              byte = 0x03
	WriteUpdateNotStarted      byte = 0x04
	WriteAlsoRetry             byte = 0x10
	WriteImageCommonParamError byte = 0x11

	VerifyHeaderCmacCheckError    byte = 0x01
	VerifyHeaderVersionCheckError byte = 0x02
	VerifyCapabilityInfoError     byte = 0x03
	VerifyFwBodyCmacCheckError    byte = 0x04
	VerifyKeepPolling             byte = 0x10
	VerifyCommonParamError        byte = 0x11

	FinalizeKeepPolling byte = 0x10

	CodeOtherError byte = 0xFF
)

// Interpret decodes a raw ReportUpdateStatus report.
// Layout: [0] report ID, [1] command echo, [2] status code, [3] reserved.
// Codes that are not known to mean success or progress, and echoes of an
// unknown command, decode as KindError with the raw code preserved.
// StartUpdate Retry means the header was accepted; only Processing is pending.
func Interpret(raw []byte) (Status, error) {
	if len(raw) < 3 {
		return Status{}, fmt.Errorf("%w: %d bytes", ErrMalformedStatus, len(raw))
	}
	if raw[0] != ReportUpdateStatus {
		return Status{}, fmt.Errorf("%w: report id 0x%02x", ErrMalformedStatus, raw[0])
	}

	cmd := ParseCommand(raw[1])
	code := raw[2]
	status := Status{Command: cmd, Code: code, Percent: PercentUnknown}

	switch cmd {
	case CommandStartUpdate:
		status.Kind = classify(code, []byte{StartRetry}, StartProcessing)
	case CommandWriteUpdateImage:
		status.Kind = classify(code, []byte{WriteSendNext}, WriteRetry, WriteAlsoRetry)
	case CommandVerifyUpdate:
		status.Kind = classify(code, nil, VerifyKeepPolling)
	case CommandFinalizeUpdate:
		status.Kind = classify(code, nil, FinalizeKeepPolling)
	default:
		status.Kind = KindError
	}
	return status, nil
}

func classify(code byte, alsoSuccess []byte, pending ...byte) Kind {
	if code == CodeSuccess {
		return KindSuccess
	}
	for _, c := range alsoSuccess {
		if code == c {
			return KindSuccess
		}
	}
	for _, c := range pending {
		if code == c {
			return KindInProgress
		}
	}
	return KindError
}
