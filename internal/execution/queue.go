package execution

import (
	"container/heap"

	"tss/internal/domain"
)

// shardQueue orders pending shards by priority descending, then estimated
// duration ascending, then planner sequence.
type shardQueue []*domain.Shard

func newShardQueue(shards []*domain.Shard) *shardQueue {
	q := make(shardQueue, len(shards))
	copy(q, shards)
	heap.Init(&q)
	return &q
}

func (q shardQueue) Len() int { return len(q) }

func (q shardQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.Duration != b.Duration {
		return a.Duration < b.Duration
	}
	return a.Seq < b.Seq
}

func (q shardQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *shardQueue) Push(x any) { *q = append(*q, x.(*domain.Shard)) }

func (q *shardQueue) Pop() any {
	old := *q
	n := len(old)
	sh := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return sh
}

func (q *shardQueue) push(sh *domain.Shard) { heap.Push(q, sh) }

func (q *shardQueue) pop() *domain.Shard { return heap.Pop(q).(*domain.Shard) }

// drain removes and returns every queued shard in dispatch order.
func (q *shardQueue) drain() []*domain.Shard {
	out := make([]*domain.Shard, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}
