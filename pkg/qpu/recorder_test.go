package qpu

import (
	"testing"
	"time"
)

func TestLinkRecorderQuality(t *testing.T) {
	r := NewLinkRecorder(10)

	if q := r.Quality(); q != 1.0 {
		t.Fatalf("empty window should report perfect quality, got %v", q)
	}

	r.AddRecordNow(true)
	r.AddRecordNow(true)
	r.AddRecordNow(false)
	r.AddRecordNow(false)

	if q := r.Quality(); q != 0.5 {
		t.Fatalf("expected quality 0.5, got %v", q)
	}
}

func TestLinkRecorderWindowTrim(t *testing.T) {
	r := NewLinkRecorder(3)

	r.AddRecordNow(false)
	r.AddRecordNow(true)
	r.AddRecordNow(true)
	r.AddRecordNow(true) // evicts the failure

	if q := r.Quality(); q != 1.0 {
		t.Fatalf("expected quality 1.0 after eviction, got %v", q)
	}
}

func TestLinkRecorderConsecutiveFailures(t *testing.T) {
	r := NewLinkRecorder(10)

	if n := r.ConsecutiveFailures(); n != 0 {
		t.Fatalf("expected 0 consecutive failures on empty window, got %d", n)
	}

	r.AddRecordNow(false)
	r.AddRecordNow(true)
	r.AddRecordNow(false)
	r.AddRecordNow(false)

	if n := r.ConsecutiveFailures(); n != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", n)
	}

	r.AddRecordNow(true)
	if n := r.ConsecutiveFailures(); n != 0 {
		t.Fatalf("expected streak reset after success, got %d", n)
	}
}

func TestLinkRecorderLastRecordAndClear(t *testing.T) {
	r := NewLinkRecorder(10)

	if !r.LastRecord().IsZero() {
		t.Fatalf("expected zero time on empty window")
	}

	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.AddRecord(at, true)
	if got := r.LastRecord(); !got.Equal(at) {
		t.Fatalf("expected last record at %v, got %v", at, got)
	}

	r.ClearRecords()
	if !r.LastRecord().IsZero() {
		t.Fatalf("expected empty window after clear")
	}
}
