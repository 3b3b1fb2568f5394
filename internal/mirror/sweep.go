package mirror

import "time"

// sweepLoop periodically removes expired rows from every table.
func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

// SweepOnce runs a single TTL sweep across all tables and returns the
// number of rows removed.
func (s *Store) SweepOnce() int {
	start := time.Now()
	nowMilli := start.UnixMilli()

	removed := 0
	s.tables.Range(func(_ string, t *Table) bool {
		removed += t.sweep(nowMilli)
		return true
	})

	s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if removed > 0 {
		s.metrics.SweepRemoved.Add(float64(removed))
	}
	return removed
}
