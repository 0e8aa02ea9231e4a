// Package capture provides the microphone audio source feeding the speech
// backends.
package capture

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

// Microphone streams mono float32 frames from the default capture device.
// It satisfies the engine's AudioSource contract.
type Microphone struct {
	ctx        *malgo.AllocatedContext
	sampleRate uint32
	channels   uint32

	mu      sync.Mutex
	device  *malgo.Device
	frames  chan []float32
	running bool
}

// NewMicrophone allocates the audio context. Call Close when done.
func NewMicrophone(sampleRate, channels uint32) (*Microphone, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: initializing audio context: %w", err)
	}

	return &Microphone{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Start begins capturing from the default microphone. Captured frames are
// delivered on the Frames channel; a slow consumer drops frames rather than
// stalling the device callback.
func (m *Microphone) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("capture: already capturing")
	}
	m.frames = make(chan []float32, 64)
	m.running = true
	m.mu.Unlock()

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = m.channels
	deviceCfg.SampleRate = m.sampleRate

	callbacks := malgo.DeviceCallbacks{
		Data: m.onData,
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceCfg, callbacks)
	if err != nil {
		m.abortStart()
		return fmt.Errorf("capture: initializing capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		m.abortStart()
		return fmt.Errorf("capture: starting capture device: %w", err)
	}

	m.mu.Lock()
	m.device = device
	m.mu.Unlock()

	return nil
}

func (m *Microphone) abortStart() {
	m.mu.Lock()
	m.running = false
	close(m.frames)
	m.frames = nil
	m.mu.Unlock()
}

// Frames returns the channel of captured frames. The channel is closed by
// Stop.
func (m *Microphone) Frames() <-chan []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Stop ends the capture and closes the frame channel. The audio context
// stays allocated for a later Start.
func (m *Microphone) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	m.running = false
	close(m.frames)
	m.frames = nil
}

// Close releases all audio resources.
func (m *Microphone) Close() error {
	m.Stop()

	if m.ctx != nil {
		if err := m.ctx.Uninit(); err != nil {
			return fmt.Errorf("capture: uninitializing audio context: %w", err)
		}
		m.ctx.Free()
		m.ctx = nil
	}

	return nil
}

// onData is the malgo callback invoked when audio data is available.
func (m *Microphone) onData(_, pSample []byte, frameCount uint32) {
	samples := bytesToFloat32(pSample, frameCount*m.channels)

	m.mu.Lock()
	ch := m.frames
	running := m.running
	m.mu.Unlock()

	if !running || ch == nil {
		return
	}
	select {
	case ch <- samples:
	default:
		// Consumer is behind; dropping is preferable to blocking the
		// device callback.
	}
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
