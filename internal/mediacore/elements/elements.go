// Package elements provides the built-in processing element templates:
// gain, passthrough, copier and mixer. Each element embeds
// mediacore.BaseElement and implements the open/process/close jobs over
// its ports.
package elements

import (
	"context"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// ComponentElements identifies this package in error reports.
const ComponentElements = "elements"

// DefaultTransferSize is the per-payload granularity elements request
// when the configuration does not override it.
const DefaultTransferSize = 4096

// classifyRead maps an input acquire error to a job result. A drained and
// closed upstream ends the element, transient emptiness asks the task to
// retry, everything else is fatal.
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

// classifyWrite maps an output acquire error to a job result. A closed
// downstream ends the element.
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

// fillPayload copies src into a write payload. Copying buses hand out a
// sized scratch buffer; the pointer strategy transports caller-owned
// slices and hands out an empty payload, so the element supplies one.
// Returns the byte count placed, short when the payload is smaller than
// src.
func fillPayload(p *databus.Payload, src []byte) int {
	if p.Data == nil {
		buf := make([]byte, len(src))
		copy(buf, src)
		p.Data = buf
		return len(src)
	}
	return copy(p.Data, src)
}

// configFloat reads a float configuration value, tolerating the integer
// types YAML and viper decode numbers into.
func configFloat(cfg map[string]any, key string, def float64) float64 {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return def
	}
}

// configInt reads an integer configuration value.
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

// configString reads a string configuration value.
func configString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}
