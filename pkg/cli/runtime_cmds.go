package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rcgraph/pkg/cache"
	"rcgraph/pkg/logger"
	"rcgraph/pkg/memory"
)

func (a *app) newBorrowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow",
		Short: "Show shared and exclusive cell access being checked at runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBorrow(cmd.OutOrStdout(), a.mode)
		},
	}
}

func runBorrow(w io.Writer, mode memory.Mode) error {
	cell := memory.NewCell(mode, 0)
	fmt.Fprintf(w, "cell mode %s, value %d\n", cell.Mode(), memory.Load(cell))

	r1 := cell.Borrow()
	r2, err := cell.TryBorrow()
	if err != nil {
		r1.Release()
		return fmt.Errorf("second shared access: %w", err)
	}
	_, err = cell.TryBorrowMut()
	fmt.Fprintf(w, "two shared accesses held, exclusive request: %v\n", err)
	r2.Release()
	r1.Release()

	memory.Update(cell, func(v *int) { *v += 5 })
	m := cell.BorrowMut()
	_, err = cell.TryBorrow()
	fmt.Fprintf(w, "exclusive access held, shared request: %v\n", err)
	m.Set(m.Get() * 2)
	m.Release()

	fmt.Fprintf(w, "after both releases: value %d\n", memory.Load(cell))
	return nil
}

func (a *app) newCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache [words...]",
		Short: "Intern words through a weak cache and watch entries expire",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"alpha", "beta", "alpha", "gamma", "beta", "alpha"}
			}
			return runCache(cmd.OutOrStdout(), a.mode, a.cfg.CacheSize, args, a.lggr)
		},
	}
}

func runCache(w io.Writer, mode memory.Mode, size int, words []string, lggr logger.Logger) error {
	c, err := cache.New[string, string](size, lggr)
	if err != nil {
		return err
	}
	defer c.Purge()

	handles := make([]*memory.Strong[string], 0, len(words))
	distinct := make(map[memory.Identity]struct{})
	for _, word := range words {
		h := c.GetOrCreate(word, func() *memory.Strong[string] {
			return memory.Alloc(mode, word)
		})
		handles = append(handles, h)
		distinct[h.Identity()] = struct{}{}
	}
	fmt.Fprintf(w, "interned %d words into %d allocations (cache size %d)\n",
		len(words), len(distinct), size)

	first := words[0]
	kept := handles[:0]
	for _, h := range handles {
		if h.Get() == first {
			h.Release()
			continue
		}
		kept = append(kept, h)
	}
	_, ok := c.Get(first)
	fmt.Fprintf(w, "released every %q handle, lookup hit: %t\n", first, ok)
	for _, h := range kept {
		h.Release()
	}

	s := c.Stats()
	fmt.Fprintf(w, "stats: hits=%d misses=%d expired=%d evicted=%d entries=%d\n",
		s.Hits, s.Misses, s.Expired, s.Evicted, c.Len())
	return nil
}

func (a *app) newStressCmd() *cobra.Command {
	var workers, iterations int
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Clone, upgrade and release one thread-safe allocation from many goroutines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Stress.Workers
			}
			if !cmd.Flags().Changed("iterations") {
				iterations = a.cfg.Stress.Iterations
			}
			if workers < 1 || iterations < 0 {
				return fmt.Errorf("need at least one worker and non-negative iterations, got %d and %d",
					workers, iterations)
			}
			out := cmd.OutOrStdout()
			if a.mode == memory.SingleThreaded {
				fmt.Fprintf(out, "single-threaded handle used from another goroutine: %v\n",
					crossGoroutineProbe())
				fmt.Fprintln(out, "running the stress in threadsafe mode")
			}
			res, err := runStress(cmd.Context(), workers, iterations, a.lggr)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "workers=%d iterations=%d counter=%d upgrades=%d strong=%d weak=%d\n",
				workers, iterations, res.Counter, res.Upgrades, res.Strong, res.Weak)
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Goroutines (default from config)")
	cmd.Flags().IntVarP(&iterations, "iterations", "i", 0, "Clone/release pairs per goroutine (default from config)")
	return cmd
}

// crossGoroutineProbe touches a single-threaded handle from a second
// goroutine and returns the error it panics with.
func crossGoroutineProbe() error {
	h := memory.NewRc(0)
	defer h.Release()

	done := make(chan error, 1)
	go func() {
		defer func() {
			err, _ := recover().(error)
			done <- err
		}()
		h.Clone().Release()
	}()
	err := <-done
	if err == nil {
		return errors.New("cross-goroutine use was not rejected")
	}
	return err
}

type stressResult struct {
	Counter  int
	Upgrades int64
	// counts once every worker has finished, before the final release
	Strong, Weak int64
}

// runStress shares one ThreadSafe allocation wrapping a counter cell.
// Each worker clones the handle, bumps the counter under exclusive
// access, releases its clone and upgrades a shared weak handle.
func runStress(ctx context.Context, workers, iterations int, lggr logger.Logger) (stressResult, error) {
	shared := memory.NewArc(memory.NewCell(memory.ThreadSafe, 0))
	probe := shared.Downgrade()
	defer probe.Release()
	defer shared.Release()

	var upgrades atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	for worker := range workers {
		eg.Go(func() error {
			for i := range iterations {
				if i%1024 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}
				h := shared.Clone()
				memory.Update(h.Get(), func(n *int) { *n++ })
				h.Release()

				if s, ok := probe.Upgrade(); ok {
					upgrades.Add(1)
					s.Release()
				}
			}
			lggr.Debugw("stress worker finished", "worker", worker)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return stressResult{}, fmt.Errorf("stress: %w", err)
	}

	res := stressResult{
		Counter:  memory.Load(shared.Get()),
		Upgrades: upgrades.Load(),
		Strong:   shared.StrongCount(),
		Weak:     shared.WeakCount(),
	}
	if want := workers * iterations; res.Counter != want {
		return res, fmt.Errorf("lost updates: counter %d, want %d", res.Counter, want)
	}
	if res.Strong != 1 || res.Weak != 1 {
		return res, fmt.Errorf("counts did not settle: strong=%d weak=%d", res.Strong, res.Weak)
	}
	return res, nil
}
