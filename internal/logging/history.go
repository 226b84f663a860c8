package logging

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is one log record kept in memory for the log stream endpoint.
type Entry struct {
	Seq        uint64         `json:"seq"`
	Time       time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// String formats the entry as a single line.
func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Time.Format(time.RFC3339Nano))
	fmt.Fprintf(&sb, " [%s] [%s] %s", strings.ToUpper(e.Level), e.Module, e.Message)

	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, e.Attributes[k])
	}
	return sb.String()
}

// History is a fixed-size ring of log entries with monotonically increasing
// sequence numbers, so readers can resume from the last entry they saw.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    uint64
}

// NewHistory creates a history holding at most size entries.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{entries: make([]Entry, 0, size)}
}

// Append stores an entry, evicting the oldest when full, and returns it with
// its sequence number set.
func (h *History) Append(e Entry) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	e.Seq = h.next
	if len(h.entries) < cap(h.entries) {
		h.entries = append(h.entries, e)
	} else {
		h.entries[int((e.Seq-1)%uint64(cap(h.entries)))] = e
	}
	return e
}

// Since returns entries with Seq > seq in order. Since(0) returns everything.
func (h *History) Since(seq uint64) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := len(h.entries)
	if n == 0 || seq >= h.next {
		return nil
	}
	oldest := h.next - uint64(n) + 1
	if seq < oldest {
		seq = oldest - 1
	}
	out := make([]Entry, 0, h.next-seq)
	for s := seq + 1; s <= h.next; s++ {
		out = append(out, h.entries[int((s-1)%uint64(cap(h.entries)))])
	}
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
