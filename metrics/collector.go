// Package metrics records per-stage latency and outcome samples and derives
// running aggregates. A Collector is shared by every run of a process and is
// never reset automatically.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Summary is the derived view of one stage's samples.
type Summary struct {
	Count        int           `json:"count"`
	Successes    int           `json:"successes"`
	Failures     int           `json:"failures"`
	TotalLatency time.Duration `json:"total_latency"`
	AvgLatency   time.Duration `json:"avg_latency"`
	MaxLatency   time.Duration `json:"max_latency"`
	SuccessRate  float64       `json:"success_rate"`
}

// record is the running aggregate for one stage, guarded by its own mutex so
// stages never contend with each other.
type record struct {
	mu         sync.Mutex
	count      int
	successes  int
	failures   int
	cumulative time.Duration
	max        time.Duration
}

func (r *record) summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		Count:        r.count,
		Successes:    r.successes,
		Failures:     r.failures,
		TotalLatency: r.cumulative,
		MaxLatency:   r.max,
	}
	if r.count > 0 {
		s.AvgLatency = r.cumulative / time.Duration(r.count)
		s.SuccessRate = float64(r.successes) / float64(r.count)
	}
	return s
}

// Collector aggregates samples by stage name. It is safe for concurrent use.
type Collector struct {
	mu      sync.RWMutex
	records map[string]*record
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{records: make(map[string]*record)}
}

// Record adds one sample for stage.
func (c *Collector) Record(stage string, latency time.Duration, success bool) {
	r := c.get(stage)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.cumulative += latency
	if latency > r.max {
		r.max = latency
	}
	if success {
		r.successes++
	} else {
		r.failures++
	}
}

func (c *Collector) get(stage string) *record {
	c.mu.RLock()
	r, ok := c.records[stage]
	c.mu.RUnlock()
	if ok {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.records[stage]; ok {
		return r
	}
	r = &record{}
	c.records[stage] = r
	return r
}

// Report returns the aggregates of every stage seen so far. Each stage's
// figures are internally consistent; the map as a whole is not a snapshot
// across stages.
func (c *Collector) Report() map[string]Summary {
	c.mu.RLock()
	recs := make(map[string]*record, len(c.records))
	for k, v := range c.records {
		recs[k] = v
	}
	c.mu.RUnlock()

	out := make(map[string]Summary, len(recs))
	for name, r := range recs {
		out[name] = r.summary()
	}
	return out
}

// Summary returns the aggregate for one stage.
func (c *Collector) Summary(stage string) (Summary, bool) {
	c.mu.RLock()
	r, ok := c.records[stage]
	c.mu.RUnlock()
	if !ok {
		return Summary{}, false
	}
	return r.summary(), true
}

// Stages returns the known stage names in sorted order.
func (c *Collector) Stages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.records))
	for n := range c.records {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
