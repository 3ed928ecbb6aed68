package jobs

import (
	"context"
	"hash/fnv"

	"golang.org/x/sync/errgroup"
)

type outcome struct {
	done bool
	err  error
}

// runChunk processes items sequentially, or split over workers where every
// key always lands on the same worker so one entity is never handled twice
// at the same time.
func runChunk(ctx context.Context, op Op, items []Item, offset, workers int) []outcome {
	out := make([]outcome, len(items))
	if workers <= 1 || len(items) < 2 {
		for i, it := range items {
			if ctx.Err() != nil {
				break
			}
			out[i] = runItem(ctx, op, it)
			if IsFatal(out[i].err) {
				break
			}
		}
		return out
	}

	shards := make([][]int, workers)
	for i, it := range items {
		w := shardOf(itemKey(it, offset+i), workers)
		shards[w] = append(shards[w], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, idx := range shards {
		if len(idx) == 0 {
			continue
		}
		g.Go(func() error {
			for _, i := range idx {
				if gctx.Err() != nil {
					return nil
				}
				out[i] = runItem(gctx, op, items[i])
				if IsFatal(out[i].err) {
					return out[i].err
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func runItem(ctx context.Context, op Op, it Item) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			res = outcome{done: true, err: Fatal(&panicError{val: r})}
		}
	}()
	return outcome{done: true, err: op(ctx, it)}
}

func shardOf(key string, workers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(workers))
}
