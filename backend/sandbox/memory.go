package sandbox

import (
	"math"
	"runtime"
	"runtime/metrics"
	"sync"
)

const (
	heapObjectsMetric = "/memory/classes/heap/objects:bytes"
	heapLiveMetric    = "/gc/heap/live:bytes"
)

// HeapMeter reads the heap shared by the scripts of a process.
type HeapMeter interface {
	// Allocated reports the bytes held by heap objects, including dead
	// objects the collector has not swept yet.
	Allocated() uint64
	// Live reports the bytes found reachable by the last collection.
	Live() uint64
	// Collect runs a full collection.
	Collect()
}

type runtimeHeap struct{}

func (runtimeHeap) Allocated() uint64 {
	return readHeapMetric(heapObjectsMetric)
}

func (runtimeHeap) Live() uint64 {
	return readHeapMetric(heapLiveMetric)
}

func (runtimeHeap) Collect() {
	runtime.GC()
}

func readHeapMetric(name string) uint64 {
	sample := []metrics.Sample{{Name: name}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// HeapBudget charges heap growth to the executions running against one heap.
// Go cannot attribute allocations to a goroutine, so an execution is only
// charged for growth beyond what the limits of the executions running
// alongside it can account for.
type HeapBudget struct {
	meter HeapMeter

	mu     sync.Mutex
	active map[*memoryWatch]struct{}
}

var processHeap = NewHeapBudget(runtimeHeap{})

func NewHeapBudget(meter HeapMeter) *HeapBudget {
	return &HeapBudget{
		meter:  meter,
		active: make(map[*memoryWatch]struct{}),
	}
}

// Active returns the number of executions being watched.
func (b *HeapBudget) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// watch starts charging growth against limit. The baseline is the allocated
// heap, which bounds the live heap at that moment from above.
func (b *HeapBudget) watch(limit uint64) *memoryWatch {
	w := &memoryWatch{
		budget:   b,
		baseline: b.meter.Allocated(),
		limit:    limit,
	}

	b.mu.Lock()
	b.active[w] = struct{}{}
	b.mu.Unlock()
	return w
}

func (b *HeapBudget) release(w *memoryWatch) {
	b.mu.Lock()
	delete(b.active, w)
	b.mu.Unlock()
}

// allowance is the heap the other active executions may hold.
func (b *HeapBudget) allowance(w *memoryWatch) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	var total uint64
	for other := range b.active {
		if other == w {
			continue
		}
		if other.limit == 0 || total > math.MaxUint64-other.limit {
			return math.MaxUint64
		}
		total += other.limit
	}
	return total
}

type memoryWatch struct {
	budget   *HeapBudget
	baseline uint64
	limit    uint64
}

// exceeded reports whether the execution outgrew its limit. A breach seen on
// the live heap of the last collection only counts once a full collection
// confirms it.
func (w *memoryWatch) exceeded() bool {
	if w.limit == 0 {
		return false
	}
	if !w.over(w.budget.meter.Live()) {
		return false
	}

	w.budget.meter.Collect()
	return w.over(w.budget.meter.Live())
}

func (w *memoryWatch) over(live uint64) bool {
	if live <= w.baseline {
		return false
	}
	growth := live - w.baseline
	if growth <= w.limit {
		return false
	}
	return growth-w.limit > w.budget.allowance(w)
}

func (w *memoryWatch) release() {
	w.budget.release(w)
}
