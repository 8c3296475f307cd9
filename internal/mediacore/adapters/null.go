package adapters

import (
	"context"
	"sync/atomic"

	"github.com/tphakala/mediaflow/internal/mediacore"
)

// NullSink consumes and discards payloads, counting what passed through.
// Used for benchmarking and as a drain when only side effects upstream
// matter.
type NullSink struct {
	*mediacore.BaseElement

	payloads atomic.Int64
	bytes    atomic.Int64

	in *mediacore.Port
}

// NewNullSink builds a null sink. Recognized key: transfer_size.
func NewNullSink(name string, config map[string]any) (mediacore.Element, error) {
	s := &NullSink{
		BaseElement: mediacore.NewBaseElement(name, config),
	}
	s.in = s.AddInPort("in", configInt(config, "transfer_size", DefaultTransferSize))
	return s, nil
}

func (s *NullSink) Open(ctx context.Context) error {
	s.payloads.Store(0)
	s.bytes.Store(0)
	return nil
}

func (s *NullSink) Process(ctx context.Context) (mediacore.JobResult, error) {
	p, err := s.in.AcquireRead(ctx)
	if err != nil {
		return classifyRead(ctx, err)
	}
	s.payloads.Add(1)
	s.bytes.Add(int64(len(p.Data)))
	if rerr := s.in.Release(p); rerr != nil {
		return mediacore.ResultFail, rerr
	}
	return mediacore.ResultOK, nil
}

// Payloads returns the payload count consumed since open.
func (s *NullSink) Payloads() int64 { return s.payloads.Load() }

// Bytes returns the byte count consumed since open.
func (s *NullSink) Bytes() int64 { return s.bytes.Load() }

func (s *NullSink) Close(ctx context.Context) error {
	s.Logger().Info("null sink drained",
		"payloads", s.payloads.Load(),
		"bytes", s.bytes.Load())
	return nil
}
