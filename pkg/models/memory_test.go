package models

import (
	"testing"
	"time"
)

func TestMemoryEntryString(t *testing.T) {
	entry := MemoryEntry{
		Content:   "likes tea",
		CreatedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.FixedZone("X", 3600)),
	}
	if got, want := entry.String(), "2026-02-03T03:05:06Z: likes tea"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
