package elements

import (
	"context"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore"
)

// Passthrough forwards payloads unchanged from its input port to its
// output port. Useful as a bridge between buses of different strategies
// or capacities and as a probe point in tests.
type Passthrough struct {
	*mediacore.BaseElement

	in  *mediacore.Port
	out *mediacore.Port
}

// NewPassthrough builds a passthrough element. Recognized key:
// transfer_size.
func NewPassthrough(name string, config map[string]any) (mediacore.Element, error) {
	pt := &Passthrough{
		BaseElement: mediacore.NewBaseElement(name, config),
	}
	size := configInt(config, "transfer_size", DefaultTransferSize)
	pt.in = pt.AddInPort("in", size)
	pt.out = pt.AddOutPort("out", size)
	return pt, nil
}

func (pt *Passthrough) Open(ctx context.Context) error { return nil }

func (pt *Passthrough) Process(ctx context.Context) (mediacore.JobResult, error) {
	src, err := pt.in.AcquireRead(ctx)
	if err != nil {
		return classifyRead(ctx, err)
	}

	dst, err := pt.out.AcquireWrite(ctx)
	if err != nil {
		_ = pt.in.Release(src)
		return classifyWrite(ctx, err)
	}

	n := fillPayload(dst, src.Data)
	truncated := n < len(src.Data)
	_ = pt.in.Release(src)

	if err := pt.out.Commit(dst, n); err != nil {
		return mediacore.ResultFail, err
	}
	if truncated {
		return mediacore.ResultTruncate, errors.Newf("payload truncated to %d bytes", n).
			Component(ComponentElements).
			Category(errors.CategoryProcessing).
			Context("element", pt.ID()).
			Build()
	}
	return mediacore.ResultOK, nil
}

func (pt *Passthrough) Close(ctx context.Context) error { return nil }
