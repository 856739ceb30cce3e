package hid

import (
	"fmt"

	karalabehid "github.com/karalabe/hid"
)

const (
	// SonyVendorID is the USB vendor ID for Sony.
	SonyVendorID uint16 = 0x054c

	// DualSenseProductID is the USB product ID for the DualSense controller.
	DualSenseProductID uint16 = 0x0ce6
)

// HIDAPIDevice wraps a karalabe/hid device to implement the Device interface.
type HIDAPIDevice struct {
	device karalabehid.Device // karalabe/hid.Device is an interface
	info   DeviceInfo
}

// Verify HIDAPIDevice implements Device interface.
var _ Device = (*HIDAPIDevice)(nil)

// NewHIDAPIDevice creates a new HIDAPIDevice from an open hid.Device.
func NewHIDAPIDevice(device karalabehid.Device, info DeviceInfo) *HIDAPIDevice {
	return &HIDAPIDevice{
		device: device,
		info:   info,
	}
}

// GetFeatureReport reads a feature report from the device.
func (d *HIDAPIDevice) GetFeatureReport(data []byte) (int, error) {
	return d.device.GetFeatureReport(data)
}

// SendFeatureReport writes a feature report to the device.
func (d *HIDAPIDevice) SendFeatureReport(data []byte) (int, error) {
	return d.device.SendFeatureReport(data)
}

// Close closes the device handle.
func (d *HIDAPIDevice) Close() error {
	return d.device.Close()
}

// Info returns information about the device.
func (d *HIDAPIDevice) Info() DeviceInfo {
	return d.info
}

// Enumerate returns all HID devices matching vendorID and productID.
func Enumerate(vendorID, productID uint16) ([]DeviceInfo, error) {
	devices, err := karalabehid.Enumerate(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate HID devices: %w", err)
	}

	infos := make([]DeviceInfo, 0, len(devices))
	for _, device := range devices {
		infos = append(infos, fromKaralabe(device))
	}
	return infos, nil
}

// OpenDevice opens the HID device at info.Path.
func OpenDevice(info DeviceInfo) (Device, error) {
	devices, err := karalabehid.Enumerate(info.VendorID, info.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	for _, deviceInfo := range devices {
		if deviceInfo.Path != info.Path {
			continue
		}

		device, err := deviceInfo.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open device %s: %w", info.Path, err)
		}
		return NewHIDAPIDevice(device, fromKaralabe(deviceInfo)), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrPathNotFound, info.Path)
}

func fromKaralabe(device karalabehid.DeviceInfo) DeviceInfo {
	return DeviceInfo{
		Path:         device.Path,
		VendorID:     device.VendorID,
		ProductID:    device.ProductID,
		Serial:       device.Serial,
		Manufacturer: device.Manufacturer,
		Product:      device.Product,
		UsagePage:    device.UsagePage,
		Usage:        device.Usage,
		Interface:    device.Interface,
	}
}
