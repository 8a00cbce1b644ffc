package kmeans

// executor runs the tasks of one engine call.
//
// Tasks that only write disjoint parts of the outputs (point assignment) are split in chunks with parallelism(),
// while tasks that accumulate per-shard partial sums are split in exactly one task per shard, so their grouping of
// points never depends on the machine.
type executor interface {
	// parallelism is the number of chunks to split order-independent work into, for the given number of shards.
	parallelism(numShards int) int

	// forEach runs task(i) for i in [0, n), possibly concurrently, and waits for all of them.
	// It returns the error of the lowest failing i.
	forEach(n int, task func(i int) error) error
}

// span is a contiguous range of points [Lo, Hi).
type span struct {
	Lo, Hi int
}

func (s span) Len() int { return s.Hi - s.Lo }

// partition splits n points in numParts contiguous spans, the first ones possibly one point shorter.
// Span i is [i*n/numParts, (i+1)*n/numParts): spans may be empty if numParts > n.
func partition(n, numParts int) []span {
	numParts = max(numParts, 1)
	spans := make([]span, numParts)
	for i := range spans {
		spans[i] = span{Lo: i * n / numParts, Hi: (i + 1) * n / numParts}
	}
	return spans
}

// reduceAccumulators adds the partial sums of all shards into the first one, in ascending shard order.
func reduceAccumulators(shards []*accumulator) *accumulator {
	total := shards[0]
	for _, acc := range shards[1:] {
		for i, v := range acc.sums {
			total.sums[i] += v
		}
		for i, v := range acc.counts {
			total.counts[i] += v
		}
	}
	return total
}
