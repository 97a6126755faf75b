package assignment

import "sync"

// Stats counts engine outcomes since start.
type Stats struct {
	Successes        map[Kind]int `json:"successes"`
	Fallbacks        int          `json:"fallbacks"`
	NoEligible       int          `json:"no_eligible"`
	LostReservations int          `json:"lost_reservations"`
	AIErrors         int          `json:"ai_errors"`
}

type counters struct {
	mu sync.Mutex
	s  Stats
}

func newCounters() *counters {
	return &counters{s: Stats{Successes: make(map[Kind]int)}}
}

func (c *counters) success(kind Kind, fellBack bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Successes[kind]++
	if fellBack {
		c.s.Fallbacks++
	}
}

func (c *counters) noEligible() {
	c.mu.Lock()
	c.s.NoEligible++
	c.mu.Unlock()
}

func (c *counters) lostReservation() {
	c.mu.Lock()
	c.s.LostReservations++
	c.mu.Unlock()
}

func (c *counters) aiError() {
	c.mu.Lock()
	c.s.AIErrors++
	c.mu.Unlock()
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()
	out := e.stats.s
	out.Successes = make(map[Kind]int, len(e.stats.s.Successes))
	for k, v := range e.stats.s.Successes {
		out.Successes[k] = v
	}
	return out
}
