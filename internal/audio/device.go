package audio

import (
	"fmt"
	"strings"

	"github.com/gen2brain/malgo"
)

// DeviceInfo contains information about a capture device
type DeviceInfo struct {
	ID        string // Position-based identifier, e.g. capture-0
	Name      string // Human-readable device name
	IsDefault bool   // Whether this is the system default device
}

// String returns a human-readable representation of the device
func (d DeviceInfo) String() string {
	defaultMarker := ""
	if d.IsDefault {
		defaultMarker = " [DEFAULT]"
	}
	return fmt.Sprintf("%s: %s%s", d.ID, d.Name, defaultMarker)
}

// ListDevices returns the available capture devices
func ListDevices() ([]DeviceInfo, error) {
	infos, err := captureDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:        fmt.Sprintf("capture-%d", i),
			Name:      info.Name(),
			IsDefault: info.IsDefault > 0,
		})
	}
	return devices, nil
}

// MatchDevice picks the device whose name contains name, ignoring case.
// An empty name selects the system default, or the first device.
func MatchDevice(devices []DeviceInfo, name string) (*DeviceInfo, error) {
	if name == "" {
		for _, device := range devices {
			if device.IsDefault {
				return &device, nil
			}
		}
		if len(devices) > 0 {
			return &devices[0], nil
		}
		return nil, fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}

	searchName := strings.ToLower(name)
	for _, device := range devices {
		if strings.Contains(strings.ToLower(device.Name), searchName) {
			return &device, nil
		}
	}
	return nil, fmt.Errorf("%w: no device found matching name: %s", ErrDeviceUnavailable, name)
}

func captureDevices() ([]malgo.DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	return infos, nil
}
