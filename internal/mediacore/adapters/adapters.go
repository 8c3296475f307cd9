// Package adapters provides the built-in I/O adapter templates bridging
// pipelines to the outside world: raw file source/sink, WAV file
// source/sink, soundcard capture and a null sink. Adapters are plain
// elements with only one side of the port pair, so pipelines treat them
// like any other stage.
package adapters

import (
	"context"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// ComponentAdapters identifies this package in error reports.
const ComponentAdapters = "adapters"

// DefaultTransferSize is the per-payload granularity adapters request
// when the configuration does not override it.
const DefaultTransferSize = 4096

// RegisterAll adds every built-in adapter template to the pool under its
// canonical name.
func RegisterAll(pool *mediacore.Pool) error {
	templates := map[string]mediacore.Factory{
		"file_source": NewFileSource,
		"file_sink":   NewFileSink,
		"wav_source":  NewWAVSource,
		"wav_sink":    NewWAVSink,
		"capture":     NewCaptureSource,
		"null_sink":   NewNullSink,
	}
	for name, factory := range templates {
		if err := pool.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}

func classifyRead(ctx context.Context, err error) (mediacore.JobResult, error) {
	switch {
	case errors.Is(err, databus.ErrClosed):
		return mediacore.ResultDone, nil
	case errors.Is(err, databus.ErrWouldBlock), errors.Is(err, databus.ErrTimeout):
		return mediacore.ResultContinue, nil
	case ctx.Err() != nil:
		return mediacore.ResultContinue, nil
	default:
		return mediacore.ResultFail, err
	}
}

func classifyWrite(ctx context.Context, err error) (mediacore.JobResult, error) {
	switch {
	case errors.Is(err, databus.ErrClosed):
		return mediacore.ResultDone, nil
	case errors.Is(err, databus.ErrWouldBlock), errors.Is(err, databus.ErrTimeout):
		return mediacore.ResultContinue, nil
	case ctx.Err() != nil:
		return mediacore.ResultContinue, nil
	default:
		return mediacore.ResultFail, err
	}
}

// fillPayload copies src into a write payload, supplying the buffer on
// buses that transport caller-owned slices.
func fillPayload(p *databus.Payload, src []byte) int {
	if p.Data == nil {
		buf := make([]byte, len(src))
		copy(buf, src)
		p.Data = buf
		return len(src)
	}
	return copy(p.Data, src)
}

func configInt(cfg map[string]any, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func configString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}
