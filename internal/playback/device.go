package playback

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"
)

// OutputDevice is an open speaker stream pulling PCM frames.
type OutputDevice interface {
	Close() error
}

// OutputOpener acquires an output device that pulls interleaved float32
// frames from fill. fill must write up to len(out) samples and return how
// many it produced; fewer than requested means the track is exhausted.
// Injected so tests can run players without hardware.
type OutputOpener func(sampleRate, channels int, fill func(out []float32) int) (OutputDevice, error)

type malgoOutput struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// OpenSpeaker opens the default playback device via malgo.
func OpenSpeaker(sampleRate, channels int, fill func(out []float32) int) (OutputDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceCfg.Playback.Format = malgo.FormatF32
	deviceCfg.Playback.Channels = uint32(channels)
	deviceCfg.SampleRate = uint32(sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			sampleCount := int(frameCount) * channels
			out := make([]float32, sampleCount)
			fill(out)
			float32ToBytes(out, pOutput)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceCfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	return &malgoOutput{ctx: ctx, device: device}, nil
}

// Close stops playback and releases all audio resources immediately.
func (d *malgoOutput) Close() error {
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

// float32ToBytes writes samples into dst as little-endian float32.
func float32ToBytes(samples []float32, dst []byte) {
	for i, sample := range samples {
		offset := i * 4
		if offset+4 > len(dst) {
			return
		}
		binary.LittleEndian.PutUint32(dst[offset:offset+4], math.Float32bits(sample))
	}
}
