// Package ref provides a reference-counted, read-only handle over an Arrow
// record batch so several concurrent ComputeChanges calls can read one shared
// input batch without any of them owning its lifetime.
package ref

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/v2pro/plz/countlog"
)

// RecordHandle is a reference-counted wrapper around an immutable arrow.Record.
// ComputeChanges calls Acquire before reading the batch's columns and Release
// when done; the underlying record is released back to its allocator only when
// the last reference drops.
type RecordHandle struct {
	name             string
	record           arrow.Record
	referenceCounter uint32
}

// NewRecordHandle wraps record with an initial reference count of one. The
// caller's own reference is released by calling Release once.
func NewRecordHandle(name string, record arrow.Record) *RecordHandle {
	record.Retain()
	return &RecordHandle{name: name, record: record, referenceCounter: 1}
}

// Acquire adds a reference, returning false if the handle has already been
// fully released and must not be used.
func (h *RecordHandle) Acquire() bool {
	for {
		counter := atomic.LoadUint32(&h.referenceCounter)
		if counter == 0 {
			return false
		}
		if !atomic.CompareAndSwapUint32(&h.referenceCounter, counter, counter+1) {
			continue
		}
		return true
	}
}

// Record returns the underlying batch. Valid only between a successful
// Acquire and the matching Release.
func (h *RecordHandle) Record() arrow.Record {
	return h.record
}

// Release drops a reference, releasing the underlying record's memory once
// the last reference is gone. Calls past zero have no effect.
func (h *RecordHandle) Release() {
	if !h.decreaseReference() {
		return
	}
	countlog.Trace("event!ref.release record handle", "name", h.name)
	h.record.Release()
}

func (h *RecordHandle) decreaseReference() bool {
	for {
		counter := atomic.LoadUint32(&h.referenceCounter)
		if counter == 0 {
			return false
		}
		if atomic.CompareAndSwapUint32(&h.referenceCounter, counter, counter-1) {
			return counter == 1
		}
	}
}
