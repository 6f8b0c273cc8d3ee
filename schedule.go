package bitemporal

import (
	"context"
	"sync"

	"github.com/v2pro/plz/concurrent"
	"github.com/v2pro/plz/countlog"
)

// dispatchGroups runs reconcileGroup over every group in keys, choosing
// sequential or parallel execution per spec §4.6's T_groups/T_rows
// thresholds. Work is independent per identity group (no shared mutable
// state beyond each group's own pre-allocated result slot), the same
// shape as the teacher's command-queue dispatch in lstore.go, adapted
// from a single long-lived consumer goroutine to a one-shot fan-out/
// fan-in per call.
func dispatchGroups(groups map[string]*identityGroup, keys []string, opts *Options) ([]groupOutcome, error) {
	totalRows := 0
	for _, k := range keys {
		g := groups[k]
		totalRows += len(g.current) + len(g.updates)
	}

	results := make([]groupOutcome, len(keys))
	if len(keys) >= opts.ParallelGroupThreshold || totalRows >= opts.ParallelRowThreshold {
		countlog.Trace("event!schedule.dispatch parallel", "groups", len(keys), "rows", totalRows)
		runParallel(groups, keys, opts, results)
	} else {
		countlog.Trace("event!schedule.dispatch sequential", "groups", len(keys), "rows", totalRows)
		runSequential(groups, keys, opts, results)
	}

	for i, r := range results {
		if r.err != nil {
			countlog.Error("event!schedule.group failed", "key", keys[i], "err", r.err)
			return nil, r.err
		}
	}
	return results, nil
}

func runSequential(groups map[string]*identityGroup, keys []string, opts *Options, results []groupOutcome) {
	for i, k := range keys {
		results[i] = reconcileGroup(groups[k], opts)
	}
}

// runParallel fans the worklist out across a v2pro/plz/concurrent
// UnboundedExecutor, one goroutine per group, and blocks until all have
// reported back. Each goroutine writes only to its own index of results,
// so no locking is needed around the slice itself.
func runParallel(groups map[string]*identityGroup, keys []string, opts *Options, results []groupOutcome) {
	executor := concurrent.NewUnboundedExecutor()
	var wg sync.WaitGroup
	wg.Add(len(keys))

	for i, k := range keys {
		i, g := i, groups[k]
		executor.Go(func(ctx context.Context) {
			defer wg.Done()
			defer func() {
				if recovered := recover(); recovered != nil && recovered != concurrent.StopSignal {
					countlog.Fatal("event!schedule.worker panic",
						"err", recovered,
						"stacktrace", countlog.ProvideStacktrace)
					results[i] = groupOutcome{err: &InternalError{Where: "dispatchGroups", Reason: "worker panic"}}
				}
			}()
			results[i] = reconcileGroup(g, opts)
		})
	}

	wg.Wait()
	executor.StopAndWait(context.Background())
}
