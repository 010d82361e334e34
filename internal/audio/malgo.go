package audio

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// MalgoBackend captures from the system microphone through miniaudio
type MalgoBackend struct{}

// NewMalgoBackend creates the default capture backend
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

// Probe implements Backend
func (b *MalgoBackend) Probe() error {
	infos, err := captureDevices()
	if err != nil {
		return classifyMalgo(err)
	}
	if len(infos) == 0 {
		return fmt.Errorf("%w: no capture devices found", ErrDeviceUnavailable)
	}
	return nil
}

// classifyMalgo maps miniaudio result codes before falling back to the message
func classifyMalgo(err error) error {
	if errors.Is(err, malgo.ErrAccessDenied) {
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	}
	return classify(err)
}

// Open implements Backend
func (b *MalgoBackend) Open(cfg CaptureConfig, h Handler) (Device, error) {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyMalgo(fmt.Errorf("failed to initialize malgo context: %w", err))
	}

	d := &malgoDevice{ctx: malgoCtx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = cfg.SampleRate
	if cfg.PeriodFrames > 0 {
		deviceConfig.PeriodSizeInFrames = cfg.PeriodFrames
	}

	if cfg.DeviceName != "" {
		infos, err := malgoCtx.Devices(malgo.Capture)
		if err != nil {
			d.release()
			return nil, classifyMalgo(fmt.Errorf("failed to enumerate devices: %w", err))
		}
		info, err := matchMalgoDevice(infos, cfg.DeviceName)
		if err != nil {
			d.release()
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if h.Data != nil {
				h.Data(input)
			}
		},
		Stop: func() {
			if d.closing.Load() {
				return
			}
			if h.Lost != nil {
				h.Lost(errors.New("capture device stopped"))
			}
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		d.release()
		return nil, classifyMalgo(fmt.Errorf("failed to initialize device: %w", err))
	}
	d.device = device

	if err := device.Start(); err != nil {
		d.closing.Store(true)
		d.release()
		return nil, classifyMalgo(fmt.Errorf("failed to start device: %w", err))
	}

	return d, nil
}

type malgoDevice struct {
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	closing atomic.Bool
	once    sync.Once
}

func (d *malgoDevice) Close() error {
	var err error
	d.once.Do(func() {
		d.closing.Store(true)
		if d.device != nil {
			if serr := d.device.Stop(); serr != nil {
				err = fmt.Errorf("failed to stop device: %w", serr)
			}
		}
		d.release()
	})
	return err
}

func (d *malgoDevice) release() {
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		_ = d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
	}
}

func matchMalgoDevice(infos []malgo.DeviceInfo, name string) (*malgo.DeviceInfo, error) {
	searchName := strings.ToLower(name)
	for i := range infos {
		if strings.Contains(strings.ToLower(infos[i].Name()), searchName) {
			return &infos[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no device found matching name: %s", ErrDeviceUnavailable, name)
}
