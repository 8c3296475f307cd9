package adapters

import (
	"context"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// CaptureSource captures pcm_s16le audio from a soundcard device and
// pushes it to the output port. The device callback copies frames into a
// buffered channel; the process job drains that channel, so the realtime
// callback never blocks on the pipeline.
type CaptureSource struct {
	*mediacore.BaseElement

	sampleRate uint32
	channels   uint32

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	// dropped is shared with the realtime audio callback thread
	frames  chan []byte
	dropped atomic.Int64

	out *mediacore.Port
}

// NewCaptureSource builds a soundcard capture source. Recognized keys:
// sample_rate (default 48000), channels (default 1), queue (callback
// frame queue length, default 16), transfer_size.
func NewCaptureSource(name string, config map[string]any) (mediacore.Element, error) {
	s := &CaptureSource{
		BaseElement: mediacore.NewBaseElement(name, config),
		sampleRate:  uint32(configInt(config, "sample_rate", 48000)),
		channels:    uint32(configInt(config, "channels", 1)),
		frames:      make(chan []byte, configInt(config, "queue", 16)),
	}
	s.out = s.AddOutPort("out", configInt(config, "transfer_size", DefaultTransferSize))
	return s, nil
}

func (s *CaptureSource) Open(ctx context.Context) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryResource).
			Context("operation", "init_context").
			Build()
	}
	s.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = s.channels
	deviceConfig.SampleRate = s.sampleRate
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: s.onFrames,
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		s.mctx = nil
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryResource).
			Context("operation", "init_device").
			Context("sample_rate", s.sampleRate).
			Build()
	}
	s.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		s.device = nil
		s.mctx = nil
		return errors.New(err).
			Component(ComponentAdapters).
			Category(errors.CategoryResource).
			Context("operation", "start_device").
			Build()
	}

	s.Logger().Info("capture started",
		"sample_rate", s.sampleRate,
		"channels", s.channels)
	return nil
}

// onFrames runs on the audio thread. It must not block.
func (s *CaptureSource) onFrames(_, input []byte, _ uint32) {
	if len(input) == 0 {
		return
	}
	frame := make([]byte, len(input))
	copy(frame, input)
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
	}
}

func (s *CaptureSource) Process(ctx context.Context) (mediacore.JobResult, error) {
	var frame []byte
	select {
	case frame = <-s.frames:
	default:
		return mediacore.ResultContinue, nil
	}

	dst, err := s.out.AcquireWrite(ctx)
	if err != nil {
		res, cerr := classifyWrite(ctx, err)
		if res == mediacore.ResultFail {
			return res, cerr
		}
		// Live capture cannot wait, the frame is dropped.
		s.dropped.Add(1)
		return mediacore.ResultContinue, nil
	}
	n := fillPayload(dst, frame)
	if cerr := s.out.Commit(dst, n); cerr != nil {
		return mediacore.ResultFail, cerr
	}
	if n < len(frame) {
		return mediacore.ResultTruncate, errors.Newf("capture frame truncated to %d bytes", n).
			Component(ComponentAdapters).
			Category(errors.CategoryProcessing).
			Context("element", s.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

// Dropped returns the count of frames lost to backpressure.
func (s *CaptureSource) Dropped() int64 { return s.dropped.Load() }

func (s *CaptureSource) Close(ctx context.Context) error {
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
		s.mctx = nil
	}
	if n := s.dropped.Load(); n > 0 {
		s.Logger().Warn("capture frames dropped", "dropped", n)
	}
	return nil
}
