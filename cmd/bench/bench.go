// Package bench implements the bench subcommand: a raw throughput
// measurement of the bus strategies, useful for sizing capacities before
// declaring pipelines.
package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/mediaflow/internal/conf"
	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// Command returns the bench subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		strategy string
		seconds  int
		payload  int
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark data bus throughput",
		RunE: func(cmd *cobra.Command, args []string) error {
			return benchBus(settings, strategy, seconds, payload)
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "ring", "bus strategy: ring | pointer | fifo | block")
	cmd.Flags().IntVarP(&seconds, "seconds", "t", 3, "benchmark duration in seconds")
	cmd.Flags().IntVarP(&payload, "payload", "p", 4096, "payload size in bytes")
	return cmd
}

func benchBus(settings *conf.Settings, strategy string, seconds, payload int) error {
	cfg := databus.Config{
		Strategy:  databus.Strategy(strategy),
		Capacity:  settings.Engine.DefaultBusCapacity,
		BlockSize: payload,
	}
	if cfg.Strategy != databus.StrategyRing {
		slots := cfg.Capacity / payload
		if slots < 2 {
			slots = 2
		}
		cfg.Capacity = slots
	}

	bus, err := databus.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(seconds)*time.Second)
	defer cancel()

	chunk := make([]byte, payload)
	var produced, consumed int64

	prodDone := make(chan error, 1)
	go func() {
		for ctx.Err() == nil {
			p, err := bus.AcquireWrite(ctx, payload)
			if err != nil {
				if errors.Is(err, databus.ErrWouldBlock) {
					continue
				}
				prodDone <- nil
				return
			}
			n := payload
			if p.Data == nil {
				p.Data = chunk
			} else {
				n = copy(p.Data, chunk)
			}
			if err := bus.CommitWrite(p, n); err != nil {
				prodDone <- err
				return
			}
			produced += int64(n)
		}
		prodDone <- nil
	}()

	start := time.Now()
	for {
		p, err := bus.AcquireRead(ctx)
		if err != nil {
			if errors.Is(err, databus.ErrWouldBlock) && ctx.Err() == nil {
				continue
			}
			break
		}
		consumed += int64(len(p.Data))
		if err := bus.Release(p); err != nil {
			return err
		}
	}
	elapsed := time.Since(start)

	if err := <-prodDone; err != nil {
		return err
	}

	mb := float64(consumed) / (1024 * 1024)
	fmt.Printf("strategy=%s payload=%dB duration=%s\n", strategy, payload, elapsed.Round(time.Millisecond))
	fmt.Printf("produced=%dB consumed=%dB throughput=%.1f MB/s\n", produced, consumed, mb/elapsed.Seconds())
	return nil
}
