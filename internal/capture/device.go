package capture

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// capture format shared by every recorder variant.
const (
	captureSampleRate = 48000
	captureChannels   = 1
)

// InputDevice is an open microphone stream delivering PCM frames.
type InputDevice interface {
	Close() error
}

// InputOpener acquires the microphone and begins delivering float32 frames
// to onFrames. Injected so tests can drive sessions without hardware.
type InputOpener func(sampleRate, channels int, onFrames func([]float32)) (InputDevice, error)

type malgoDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// OpenMicrophone opens the default capture device via malgo. Failures to
// initialize or start the device are reported as ErrPermissionDenied: on
// every supported platform they mean the OS refused the microphone.
func OpenMicrophone(sampleRate, channels int, onFrames func([]float32)) (InputDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = uint32(channels)
	deviceCfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			onFrames(bytesToFloat32(pSample, frameCount*uint32(channels)))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	return &malgoDevice{ctx: ctx, device: device}, nil
}

// Close stops capture and releases all audio resources immediately.
func (d *malgoDevice) Close() error {
	if d.device != nil {
		d.device.Uninit()
		d.device = nil
	}
	if d.ctx != nil {
		err := d.ctx.Uninit()
		d.ctx.Free()
		d.ctx = nil
		return err
	}
	return nil
}

// bytesToFloat32 converts raw little-endian float32 bytes to a sample slice.
func bytesToFloat32(data []byte, sampleCount uint32) []float32 {
	samples := make([]float32, 0, sampleCount)
	for i := uint32(0); i < sampleCount; i++ {
		offset := i * 4
		if offset+4 > uint32(len(data)) {
			break
		}
		bits := binary.LittleEndian.Uint32(data[offset : offset+4])
		samples = append(samples, math.Float32frombits(bits))
	}
	return samples
}
