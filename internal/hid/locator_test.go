// SPDX-License-Identifier: GPL-3.0-only

package hid_test

import (
	"errors"
	"testing"

	"github.com/shini4i/dualsense-updater/internal/hid"
	"github.com/shini4i/dualsense-updater/internal/hid/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var dualSenses = []hid.DeviceInfo{
	{Path: "/dev/hidraw3", VendorID: hid.SonyVendorID, ProductID: hid.DualSenseProductID, Serial: "AA"},
	{Path: "/dev/hidraw5", VendorID: hid.SonyVendorID, ProductID: hid.DualSenseProductID, Serial: "BB"},
}

func staticEnumerator(devices []hid.DeviceInfo) hid.DeviceEnumerator {
	return func(vendorID, productID uint16) ([]hid.DeviceInfo, error) {
		var out []hid.DeviceInfo
		for _, d := range devices {
			if (vendorID == 0 || d.VendorID == vendorID) && (productID == 0 || d.ProductID == productID) {
				out = append(out, d)
			}
		}
		return out, nil
	}
}

func TestLocator_Find_FirstMatch(t *testing.T) {
	l := hid.NewLocator(hid.WithEnumerator(staticEnumerator(dualSenses)))

	info, err := l.Find(hid.SonyVendorID, hid.DualSenseProductID, "")
	require.NoError(t, err)
	assert.Equal(t, "/dev/hidraw3", info.Path)
}

func TestLocator_Find_ExplicitPath(t *testing.T) {
	devices := append([]hid.DeviceInfo{{Path: "/dev/hidraw0", VendorID: 0x046d, ProductID: 0xc52b}}, dualSenses...)
	l := hid.NewLocator(hid.WithEnumerator(staticEnumerator(devices)))

	tests := []struct {
		name        string
		path        string
		expected    string
		expectedErr error
	}{
		{name: "second controller", path: "/dev/hidraw5", expected: "/dev/hidraw5"},
		{name: "path ignores vid and pid", path: "/dev/hidraw0", expected: "/dev/hidraw0"},
		{name: "unknown path", path: "/dev/hidraw9", expectedErr: hid.ErrPathNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := l.Find(hid.SonyVendorID, hid.DualSenseProductID, tt.path)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, info.Path)
		})
	}
}

func TestLocator_Find_NotFound(t *testing.T) {
	l := hid.NewLocator(hid.WithEnumerator(staticEnumerator(nil)))

	_, err := l.Find(hid.SonyVendorID, hid.DualSenseProductID, "")
	require.ErrorIs(t, err, hid.ErrDeviceNotFound)
	assert.Contains(t, err.Error(), "054c:0ce6")
}

func TestLocator_Find_EnumerationError(t *testing.T) {
	enumerator := func(vendorID, productID uint16) ([]hid.DeviceInfo, error) {
		return nil, errors.New("enumeration failed")
	}

	l := hid.NewLocator(hid.WithEnumerator(enumerator))
	_, err := l.Find(hid.SonyVendorID, hid.DualSenseProductID, "")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "enumeration failed")
}

func TestLocator_Open(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockDevice := mocks.NewMockDevice(ctrl)

	var opened hid.DeviceInfo
	opener := func(info hid.DeviceInfo) (hid.Device, error) {
		opened = info
		return mockDevice, nil
	}

	l := hid.NewLocator(hid.WithEnumerator(staticEnumerator(dualSenses)), hid.WithOpener(opener))
	device, err := l.Open(hid.SonyVendorID, hid.DualSenseProductID, "/dev/hidraw5")
	require.NoError(t, err)
	assert.Equal(t, mockDevice, device)
	assert.Equal(t, "BB", opened.Serial)
}

func TestLocator_Open_OpenerError(t *testing.T) {
	opener := func(info hid.DeviceInfo) (hid.Device, error) {
		return nil, errors.New("permission denied")
	}

	l := hid.NewLocator(hid.WithEnumerator(staticEnumerator(dualSenses)), hid.WithOpener(opener))
	device, err := l.Open(hid.SonyVendorID, hid.DualSenseProductID, "")
	assert.Nil(t, device)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open /dev/hidraw3")
}

func TestLocator_List(t *testing.T) {
	l := hid.NewLocator(hid.WithEnumerator(staticEnumerator(dualSenses)))

	devices, err := l.List(hid.SonyVendorID, hid.DualSenseProductID)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	devices, err = l.List(0x046d, 0xc52b)
	require.NoError(t, err)
	assert.Empty(t, devices)
}
