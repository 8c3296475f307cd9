package elements

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// Mixer fans several pcm_s16le input streams in to one output by additive
// mixing with clipping. Inputs are aligned payload by payload: the mixer
// holds on to payloads it already acquired until every live input
// contributed one, so no input data is dropped while waiting for a slow
// peer. Shorter payloads are padded with silence and flagged as truncated.
// An input whose upstream closed drops out of the mix; the mixer finishes
// when the last input is gone.
type Mixer struct {
	*mediacore.BaseElement

	ins []*mediacore.Port
	out *mediacore.Port

	// pending holds one acquired payload per input between process calls.
	pending  []*databus.Payload
	finished []bool

	mixBuf []int32
}

// NewMixer builds a mixer element. Recognized keys: inputs (stream count,
// default 2), transfer_size.
func NewMixer(name string, config map[string]any) (mediacore.Element, error) {
	inputs := configInt(config, "inputs", 2)
	if inputs < 1 {
		return nil, errors.Newf("mixer needs at least one input, got %d", inputs).
			Component(ComponentElements).
			Category(errors.CategoryValidation).
			Context("inputs", inputs).
			Build()
	}

	m := &Mixer{
		BaseElement: mediacore.NewBaseElement(name, config),
	}
	size := configInt(config, "transfer_size", DefaultTransferSize)
	for i := 0; i < inputs; i++ {
		m.ins = append(m.ins, m.AddInPort("in", size))
	}
	m.out = m.AddOutPort("out", size)
	m.pending = make([]*databus.Payload, inputs)
	m.finished = make([]bool, inputs)
	return m, nil
}

func (m *Mixer) Open(ctx context.Context) error {
	for i := range m.finished {
		m.finished[i] = false
		m.pending[i] = nil
	}
	return nil
}

func (m *Mixer) Process(ctx context.Context) (mediacore.JobResult, error) {
	// Collect one payload from every live input that has none pending.
	waiting := false
	live := 0
	for i, in := range m.ins {
		if m.finished[i] || !in.Connected() {
			continue
		}
		live++
		if m.pending[i] != nil {
			continue
		}
		p, err := in.AcquireRead(ctx)
		if err != nil {
			switch {
			case errors.Is(err, databus.ErrClosed):
				m.finished[i] = true
				live--
			case errors.Is(err, databus.ErrWouldBlock), errors.Is(err, databus.ErrTimeout):
				waiting = true
			case ctx.Err() != nil:
				waiting = true
			default:
				return mediacore.ResultFail, err
			}
			continue
		}
		m.pending[i] = p
	}

	if live == 0 {
		if m.pendingCount() == 0 {
			return mediacore.ResultDone, nil
		}
	} else if waiting || m.pendingCount() < live {
		return mediacore.ResultContinue, nil
	}

	// Mix all pending payloads into one output payload.
	maxLen := 0
	minLen := math.MaxInt
	for _, p := range m.pending {
		if p == nil {
			continue
		}
		if len(p.Data) > maxLen {
			maxLen = len(p.Data)
		}
		if len(p.Data) < minLen {
			minLen = len(p.Data)
		}
	}
	if maxLen == 0 {
		m.releasePending()
		return mediacore.ResultContinue, nil
	}

	if cap(m.mixBuf) < maxLen/2 {
		m.mixBuf = make([]int32, maxLen/2)
	}
	mix := m.mixBuf[:maxLen/2]
	for i := range mix {
		mix[i] = 0
	}
	for _, p := range m.pending {
		if p == nil {
			continue
		}
		for i := 0; i+1 < len(p.Data); i += 2 {
			mix[i/2] += int32(int16(binary.LittleEndian.Uint16(p.Data[i : i+2])))
		}
	}
	m.releasePending()

	dst, err := m.out.AcquireWrite(ctx)
	if err != nil {
		// The mixed frame is lost when the output stalls; the mix buffer
		// is not re-queued.
		res, cerr := classifyWrite(ctx, err)
		if res == mediacore.ResultFail {
			return res, cerr
		}
		m.Logger().Warn("mixed payload dropped, output unavailable", "error", err)
		return mediacore.ResultContinue, nil
	}

	out := make([]byte, maxLen)
	for i, s := range mix {
		if s > math.MaxInt16 {
			s = math.MaxInt16
		} else if s < math.MinInt16 {
			s = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(int16(s)))
	}
	n := fillPayload(dst, out)
	if err := m.out.Commit(dst, n); err != nil {
		return mediacore.ResultFail, err
	}

	if minLen < maxLen || n < maxLen {
		return mediacore.ResultTruncate, errors.Newf("mixed inputs of unequal length, short input padded with silence").
			Component(ComponentElements).
			Category(errors.CategoryProcessing).
			Context("element", m.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

func (m *Mixer) pendingCount() int {
	n := 0
	for _, p := range m.pending {
		if p != nil {
			n++
		}
	}
	return n
}

func (m *Mixer) releasePending() {
	for i, p := range m.pending {
		if p == nil {
			continue
		}
		_ = m.ins[i].Release(p)
		m.pending[i] = nil
	}
}

// Close releases any payloads still held from a partial collection round.
func (m *Mixer) Close(ctx context.Context) error {
	m.releasePending()
	return nil
}
