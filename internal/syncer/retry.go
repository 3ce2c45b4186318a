package syncer

import "time"

// delayTable is a retry backoff that walks a fixed delay table and stops
// when the table is exhausted, giving one initial attempt plus one retry
// per entry. Tests inject an empty or zeroed table.
type delayTable struct {
	delays []time.Duration
	idx    int
}

func (b *delayTable) Next() (time.Duration, bool) {
	if b.idx >= len(b.delays) {
		return 0, true
	}
	d := b.delays[b.idx]
	b.idx++
	return d, false
}
