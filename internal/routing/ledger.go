package routing

import (
	"sync"
	"time"
)

// DefaultMaxLearningData bounds the ledger when no explicit cap is configured.
const DefaultMaxLearningData = 1000

// Ledger is the append-only, capacity-bounded store of performance
// observations plus the per-user pattern aggregates. Writes are serialized;
// reads copy under a read lock so they never race with eviction.
type Ledger struct {
	mu       sync.RWMutex
	records  []PerformanceRecord
	max      int
	patterns map[string]*UserPattern
}

// NewLedger creates a ledger holding at most max records (FIFO eviction).
func NewLedger(max int) *Ledger {
	if max <= 0 {
		max = DefaultMaxLearningData
	}
	return &Ledger{
		max:      max,
		patterns: make(map[string]*UserPattern),
	}
}

// Append adds a record, evicting the oldest when at capacity.
func (l *Ledger) Append(rec PerformanceRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	if len(l.records) > l.max {
		l.records = l.records[len(l.records)-l.max:]
	}
}

// Seed bulk-loads historical records (e.g. from the database on startup) so
// predictions are not cold after a restart. Capacity is still enforced.
func (l *Ledger) Seed(recs []PerformanceRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, recs...)
	if len(l.records) > l.max {
		l.records = l.records[len(l.records)-l.max:]
	}
}

// Len returns the current record count.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Match returns a copy of all records for the given provider+model. When
// patternID is non-empty, records from the same pattern bucket are listed
// (the predictor weights them higher); records from other buckets for the
// same model are still included so sparse users benefit from global history.
func (l *Ledger) Match(providerID, modelID string) []PerformanceRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []PerformanceRecord
	for _, r := range l.records {
		if r.ProviderID == providerID && r.ModelID == modelID {
			out = append(out, r)
		}
	}
	return out
}

// RecordPattern updates the aggregate for a user's pattern bucket after a
// learning event. savedUSD may be negative when the chosen provider cost more
// than the baseline.
func (l *Ledger) RecordPattern(userID string, f RequestFeatures, providerID string, savedUSD float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.patterns[f.PatternID]
	if !ok {
		p = &UserPattern{
			PatternID:          f.PatternID,
			UserID:             userID,
			RequestsByType:     make(map[RequestType]int),
			RequestsByProvider: make(map[string]int),
		}
		l.patterns[f.PatternID] = p
	}
	p.RequestsByType[f.Type]++
	p.RequestsByProvider[providerID]++
	p.CostSavedUSD += savedUSD
	p.LastSeen = time.Now().UTC()
}

// Pattern returns a copy of the aggregate for a pattern id.
func (l *Ledger) Pattern(patternID string) (UserPattern, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.patterns[patternID]
	if !ok {
		return UserPattern{}, false
	}
	return copyPattern(p), true
}

// UserPatterns returns copies of all pattern aggregates for a user.
func (l *Ledger) UserPatterns(userID string) []UserPattern {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []UserPattern
	for _, p := range l.patterns {
		if p.UserID == userID {
			out = append(out, copyPattern(p))
		}
	}
	return out
}

func copyPattern(p *UserPattern) UserPattern {
	cp := UserPattern{
		PatternID:          p.PatternID,
		UserID:             p.UserID,
		RequestsByType:     make(map[RequestType]int, len(p.RequestsByType)),
		RequestsByProvider: make(map[string]int, len(p.RequestsByProvider)),
		CostSavedUSD:       p.CostSavedUSD,
		LastSeen:           p.LastSeen,
	}
	for k, v := range p.RequestsByType {
		cp.RequestsByType[k] = v
	}
	for k, v := range p.RequestsByProvider {
		cp.RequestsByProvider[k] = v
	}
	return cp
}
