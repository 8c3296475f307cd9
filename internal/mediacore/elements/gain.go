package elements

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// Gain applies a gain factor to PCM payloads flowing from its input port
// to its output port. Supported encodings are pcm_s16le and pcm_f32le;
// samples are clipped to the encoding's range. The gain factor can be
// changed while the element is processing.
type Gain struct {
	*mediacore.BaseElement

	gain     atomic.Value // float64
	encoding string

	in  *mediacore.Port
	out *mediacore.Port
}

// NewGain builds a gain element from its template configuration.
// Recognized keys: gain (0.0..10.0, default 1.0), encoding (default
// pcm_s16le), transfer_size.
func NewGain(name string, config map[string]any) (mediacore.Element, error) {
	g := &Gain{
		BaseElement: mediacore.NewBaseElement(name, config),
	}

	gain := configFloat(config, "gain", 1.0)
	if err := validGain(gain); err != nil {
		return nil, err
	}
	g.gain.Store(gain)
	g.encoding = configString(config, "encoding", "pcm_s16le")

	size := configInt(config, "transfer_size", DefaultTransferSize)
	g.in = g.AddInPort("in", size)
	g.out = g.AddOutPort("out", size)
	return g, nil
}

func validGain(gain float64) error {
	if gain < 0.0 || gain > 10.0 {
		return errors.Newf("gain %v out of range [0.0, 10.0]", gain).
			Component(ComponentElements).
			Category(errors.CategoryValidation).
			Context("gain", gain).
			Build()
	}
	return nil
}

// SetGain updates the gain factor, effective from the next payload.
func (g *Gain) SetGain(gain float64) error {
	if err := validGain(gain); err != nil {
		return err
	}
	g.gain.Store(gain)
	_ = g.BaseElement.SetConfig("gain", gain)
	g.Logger().Info("gain updated", "gain", gain)
	return nil
}

// GetGain returns the current gain factor.
func (g *Gain) GetGain() float64 {
	return g.gain.Load().(float64)
}

// SetConfig routes the gain key through SetGain so it applies live.
func (g *Gain) SetConfig(key string, value any) error {
	if key == "gain" {
		return g.SetGain(configFloat(map[string]any{key: value}, key, g.GetGain()))
	}
	return g.BaseElement.SetConfig(key, value)
}

// Open validates the configured encoding.
func (g *Gain) Open(ctx context.Context) error {
	switch g.encoding {
	case "pcm_s16le", "pcm_f32le":
		return nil
	default:
		return errors.Newf("unsupported encoding %s", g.encoding).
			Component(ComponentElements).
			Category(errors.CategoryConfiguration).
			Context("element", g.ID()).
			Context("encoding", g.encoding).
			Build()
	}
}

// Process moves one payload from input to output with gain applied.
func (g *Gain) Process(ctx context.Context) (mediacore.JobResult, error) {
	src, err := g.in.AcquireRead(ctx)
	if err != nil {
		return classifyRead(ctx, err)
	}

	dst, err := g.out.AcquireWrite(ctx)
	if err != nil {
		_ = g.in.Release(src)
		return classifyWrite(ctx, err)
	}

	n := fillPayload(dst, src.Data)
	truncated := n < len(src.Data)
	_ = g.in.Release(src)

	gain := g.gain.Load().(float64)
	if gain != 1.0 {
		switch g.encoding {
		case "pcm_s16le":
			applyGainS16LE(dst.Data[:n], gain)
		case "pcm_f32le":
			applyGainF32LE(dst.Data[:n], gain)
		}
	}

	if err := g.out.Commit(dst, n); err != nil {
		return mediacore.ResultFail, err
	}
	if truncated {
		return mediacore.ResultTruncate, errors.Newf("payload truncated to %d bytes", n).
			Component(ComponentElements).
			Category(errors.CategoryProcessing).
			Context("element", g.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

// Close has nothing to release; the scheduler still calls it for symmetry.
func (g *Gain) Close(ctx context.Context) error { return nil }

// applyGainS16LE scales 16-bit signed little-endian samples in place,
// clipping at the int16 range.
func applyGainS16LE(buffer []byte, gain float64) {
	for i := 0; i+1 < len(buffer); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(buffer[i : i+2]))
		amplified := float64(sample) * gain
		if amplified > math.MaxInt16 {
			amplified = math.MaxInt16
		} else if amplified < math.MinInt16 {
			amplified = math.MinInt16
		}
		binary.LittleEndian.PutUint16(buffer[i:i+2], uint16(int16(amplified)))
	}
}

// applyGainF32LE scales 32-bit float little-endian samples in place,
// clipping to [-1.0, 1.0].
func applyGainF32LE(buffer []byte, gain float64) {
	for i := 0; i+3 < len(buffer); i += 4 {
		bits := binary.LittleEndian.Uint32(buffer[i : i+4])
		sample := math.Float32frombits(bits)
		amplified := float32(float64(sample) * gain)
		if amplified > 1.0 {
			amplified = 1.0
		} else if amplified < -1.0 {
			amplified = -1.0
		}
		binary.LittleEndian.PutUint32(buffer[i:i+4], math.Float32bits(amplified))
	}
}
