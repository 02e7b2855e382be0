package qpu

import (
	"sync"
	"time"
)

// linkRecord is one observed exchange outcome.
type linkRecord struct {
	At time.Time
	OK bool
}

// LinkRecorder keeps the last N exchange outcomes so link quality can be
// derived without touching the device.
type LinkRecorder struct {
	MaxRecordCount int

	mu      *sync.Mutex
	records []linkRecord
}

// NewLinkRecorder returns a new LinkRecorder.
func NewLinkRecorder(maxRecordCount int) *LinkRecorder {
	return &LinkRecorder{
		MaxRecordCount: maxRecordCount,
		mu:             &sync.Mutex{},
		records:        make([]linkRecord, 0),
	}
}

// AddRecord appends an outcome observed at t.
func (r *LinkRecorder) AddRecord(t time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) >= r.MaxRecordCount {
		r.records = r.records[1:]
	}
	// Round to strip monotonic clock reading, so records survive
	// serialization and long process suspensions intact.
	r.records = append(r.records, linkRecord{At: t.Round(0), OK: ok})
}

// AddRecordNow appends an outcome with the current time.
func (r *LinkRecorder) AddRecordNow(ok bool) {
	r.AddRecord(time.Now(), ok)
}

// Quality returns the fraction of successful exchanges in the window.
// An empty window counts as perfect quality.
func (r *LinkRecorder) Quality() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return 1.0
	}
	ok := 0
	for _, rec := range r.records {
		if rec.OK {
			ok++
		}
	}
	return float64(ok) / float64(len(r.records))
}

// ConsecutiveFailures returns the number of failures at the end of the
// window, i.e. the current unbroken failure streak.
func (r *LinkRecorder) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].OK {
			break
		}
		count++
	}
	return count
}

// LastRecord returns the time of the most recent record, or the zero
// time if none exist.
func (r *LinkRecorder) LastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return time.Time{}
	}
	return r.records[len(r.records)-1].At
}

// ClearRecords drops all records.
func (r *LinkRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make([]linkRecord, 0)
}
