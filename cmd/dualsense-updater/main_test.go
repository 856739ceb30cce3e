// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/shini4i/dualsense-updater/internal/config"
	"github.com/shini4i/dualsense-updater/internal/dbus"
	"github.com/shini4i/dualsense-updater/internal/firmware"
	"github.com/shini4i/dualsense-updater/internal/protocol"
	"github.com/shini4i/dualsense-updater/internal/udev"
	"github.com/shini4i/dualsense-updater/internal/update"
	"github.com/shini4i/dualsense-updater/internal/update/mocks"
)

// execute runs the root command with args and an isolated config search path.
func execute(t *testing.T, stdin string, args ...string) (*app, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	a := newApp(strings.NewReader(stdin))
	cmd := newRootCmd(a)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return a, out.String(), err
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expected      bool
		expectedRetry bool
	}{
		{name: "yes", input: "y\n", expected: true},
		{name: "full yes uppercase", input: "YES\n", expected: true},
		{name: "no", input: "no\n", expected: false},
		{name: "empty answer defaults to no", input: "\n", expected: false},
		{name: "end of input is no", input: "", expected: false},
		{name: "invalid answer asks again", input: "maybe\n y \n", expected: true, expectedRetry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			ok, err := promptYesNo(strings.NewReader(tt.input), &out, "Flash?")
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
			assert.True(t, strings.HasPrefix(out.String(), "Flash? [y/N] "))
			assert.Equal(t, tt.expectedRetry, strings.Contains(out.String(), "Please enter 'y' or 'n'."))
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("stdin closed")
}

func TestPromptYesNo_ReadError(t *testing.T) {
	_, err := promptYesNo(failingReader{}, &bytes.Buffer{}, "Flash?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdin closed")
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "0x0224", formatVersion(0x0224))
	assert.Equal(t, "0xffff", formatVersion(0xffff))
}

func TestSteps(t *testing.T) {
	tests := []struct {
		name      string
		steps     steps
		any       bool
		needImage bool
	}{
		{name: "none", steps: steps{}},
		{name: "start", steps: steps{start: true}, any: true, needImage: true},
		{name: "write", steps: steps{write: true}, any: true, needImage: true},
		{name: "verify and finalize", steps: steps{verify: true, finalize: true}, any: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.any, tt.steps.any())
			assert.Equal(t, tt.needImage, tt.steps.needImage())
		})
	}
}

func TestRootCmd_NoArgumentsPrintsHelp(t *testing.T) {
	_, out, err := execute(t, "")
	require.NoError(t, err)
	assert.Contains(t, out, "dualsense-updater [FW_IMAGE]")
	assert.Contains(t, out, "--write-update-image-only")
	assert.Contains(t, out, "during the transfer it applies to each image report")
}

func TestRootCmd_FlagsReachConfig(t *testing.T) {
	t.Setenv("DSU_MAX_RETRIES", "7")

	a, _, err := execute(t, "", "--vid", "1356", "--chunk-size", "1024", "--phase-timeout", "2s", "-v")
	require.NoError(t, err)
	require.NotNil(t, a.cfg)

	assert.Equal(t, uint16(0x054c), a.cfg.VendorID())
	assert.Equal(t, uint16(0x0ce6), a.cfg.ProductID())
	assert.Equal(t, 1024, a.cfg.ChunkSize)
	assert.Equal(t, 2*time.Second, a.cfg.PhaseTimeout)
	assert.Equal(t, 7, a.cfg.MaxRetries)
	assert.True(t, a.cfg.Verbose)
}

func TestRootCmd_InvalidConfiguration(t *testing.T) {
	_, _, err := execute(t, "", "--chunk-size", "0", "image.bin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Equal(t, update.ExitFailure, update.ExitCode(err))
}

func TestRootCmd_MissingImageForDebugStep(t *testing.T) {
	tests := []struct {
		name string
		flag string
	}{
		{name: "start", flag: "--start-update-only"},
		{name: "write", flag: "--write-update-image-only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "", tt.flag)
			require.ErrorIs(t, err, errMissingImage)
			assert.Equal(t, update.ExitFailure, update.ExitCode(err))
		})
	}
}

func TestRootCmd_ImageErrorBeforeDeviceAccess(t *testing.T) {
	empty := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{name: "full update with missing file", args: []string{filepath.Join(t.TempDir(), "missing.bin")}},
		{name: "full update with empty file", args: []string{empty}},
		{name: "debug write with missing file", args: []string{"--write-update-image-only", filepath.Join(t.TempDir(), "missing.bin")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A bogus path would fail device access with a channel error.
			args := append([]string{"--path", "/nonexistent/hidraw"}, tt.args...)
			_, out, err := execute(t, "", args...)
			require.ErrorIs(t, err, firmware.ErrImage)
			assert.Equal(t, update.ExitImage, update.ExitCode(err))
			assert.NotContains(t, out, "USE AT YOUR OWN RISK")
		})
	}
}

func TestRootCmd_TooManyArguments(t *testing.T) {
	_, _, err := execute(t, "", "a.bin", "b.bin")
	require.Error(t, err)
	assert.Equal(t, update.ExitFailure, update.ExitCode(err))
}

func TestObservers(t *testing.T) {
	tests := []struct {
		name     string
		verbose  bool
		server   *dbus.Server
		expected int
	}{
		{name: "verbose logs only", verbose: true, expected: 1},
		{name: "quiet adds progress bar", verbose: false, expected: 2},
		{name: "dbus publisher", verbose: true, server: dbus.NewServer(), expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Verbose: tt.verbose}
			assert.Len(t, observers(cfg, tt.server), tt.expected)
		})
	}
}

func TestUpdaterOptions(t *testing.T) {
	cfg := &config.Config{
		ChunkSize:      512,
		PollInterval:   time.Millisecond,
		PhaseTimeout:   time.Second,
		ReceiveTimeout: time.Second,
		MaxRetries:     2,
	}
	noop := func(update.Event) {}

	assert.Len(t, updaterOptions(cfg, nil), 6)
	assert.Len(t, updaterOptions(cfg, []update.Observer{noop, noop}), 8)
}

func TestKnownVersion(t *testing.T) {
	assert.Empty(t, knownVersion(nil))

	// Run must not read the firmware info again: the mock fails on any Receive.
	ctrl := gomock.NewController(t)
	ch := mocks.NewMockChannel(ctrl)
	ch.EXPECT().Send(gomock.Any(), gomock.Any()).Return(errors.New("device disconnected"))

	opts := append(updaterOptions(&config.Config{ChunkSize: 512, MaxRetries: 1}, nil), update.WithInfoQuery(true))
	u := update.New(ch, append(opts, knownVersion(&protocol.FirmwareInfo{Version: 0x0224})...)...)

	data := make([]byte, 1000)
	binary.LittleEndian.PutUint16(data[firmware.VersionOffset:], 0x0224)
	image, err := firmware.New(data)
	require.NoError(t, err)

	res, err := u.Run(context.Background(), image)
	require.ErrorIs(t, err, update.ErrChannel)
	assert.True(t, res.InfoSkipped)
	assert.True(t, res.CurrentVersionKnown)
	assert.Equal(t, uint16(0x0224), res.CurrentVersion)
}

func TestWaitForController_AlreadyPresent(t *testing.T) {
	err := waitForController(context.Background(), 0x054c, 0x0ce6, time.Second, func() bool { return true })
	assert.NoError(t, err)
}

func TestWaitForController_Timeout(t *testing.T) {
	err := waitForController(context.Background(), 0x054c, 0x0ce6, 50*time.Millisecond, func() bool { return false })
	require.Error(t, err)
	assert.ErrorIs(t, err, udev.ErrWaitTimeout)
	assert.ErrorIs(t, err, update.ErrChannel)
	assert.Equal(t, update.ExitChannel, update.ExitCode(err))
}

func TestWaitForController_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForController(ctx, 0x054c, 0x0ce6, time.Second, func() bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}
