package elements

import (
	"context"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// Copier fans one input stream out to several output ports. Every output
// receives a bit-identical copy of each input payload. Branches must all
// accept a payload for the copier to make progress; a full branch stalls
// the transfer.
type Copier struct {
	*mediacore.BaseElement

	in   *mediacore.Port
	outs []*mediacore.Port
}

// NewCopier builds a copier element. Recognized keys: outputs (branch
// count, default 2), transfer_size.
func NewCopier(name string, config map[string]any) (mediacore.Element, error) {
	outputs := configInt(config, "outputs", 2)
	if outputs < 1 {
		return nil, errors.Newf("copier needs at least one output, got %d", outputs).
			Component(ComponentElements).
			Category(errors.CategoryValidation).
			Context("outputs", outputs).
			Build()
	}

	c := &Copier{
		BaseElement: mediacore.NewBaseElement(name, config),
	}
	size := configInt(config, "transfer_size", DefaultTransferSize)
	c.in = c.AddInPort("in", size)
	for i := 0; i < outputs; i++ {
		c.outs = append(c.outs, c.AddOutPort("out", size))
	}
	return c, nil
}

func (c *Copier) Open(ctx context.Context) error { return nil }

// Process reads one payload and writes a copy to every connected output.
func (c *Copier) Process(ctx context.Context) (mediacore.JobResult, error) {
	src, err := c.in.AcquireRead(ctx)
	if err != nil {
		return classifyRead(ctx, err)
	}
	defer func() { _ = c.in.Release(src) }()

	truncated := false
	for _, out := range c.outs {
		if !out.Connected() {
			continue
		}
		dst, err := out.AcquireWrite(ctx)
		if err != nil {
			res, cerr := classifyWrite(ctx, err)
			if res == mediacore.ResultFail {
				return res, cerr
			}
			// A stalled or closed branch drops this payload for that
			// branch only; the siblings already got their copy.
			c.Logger().Warn("fan-out branch skipped",
				"port", out.Name(),
				"error", err)
			continue
		}
		n := fillPayload(dst, src.Data)
		if n < len(src.Data) {
			truncated = true
		}
		if err := out.Commit(dst, n); err != nil {
			return mediacore.ResultFail, err
		}
	}

	if truncated {
		return mediacore.ResultTruncate, errors.Newf("fan-out payload truncated").
			Component(ComponentElements).
			Category(errors.CategoryProcessing).
			Context("element", c.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

func (c *Copier) Close(ctx context.Context) error { return nil }
