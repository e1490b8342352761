// Package queue provides an executor/source queue abstraction for
// single-shot testcase execution against the harness, decoupling the driver
// from any one harness implementation (and making it mockable in tests).
package queue

import (
	"context"

	"github.com/simfuzz/simfuzz/pkg/harness"
)

// Request is one candidate testcase to run, plus bookkeeping the driver
// attaches for the lifetime of the request.
type Request struct {
	Input []byte

	// OriginMutator/ParentID record the testcase's provenance, per
	// spec.md §3's Testcase metadata.
	OriginMutator string
	ParentID      string

	// Strategy is opaque bookkeeping the originating Source attaches for
	// itself to read back once Execute returns a Result for this Request
	// (e.g. the bandit arm a mutation source picked, so it can be
	// rewarded); nil for requests with no such bookkeeping.
	Strategy any
}

// Result is what E reports back for one executed Request.
type Result struct {
	Reason   harness.StopReason
	Coverage []byte
	Err      error
}

// Executor runs one Request to completion. Implemented by pkg/fuzzer's
// harness-backed Driver.
type Executor interface {
	Execute(ctx context.Context, req *Request) *Result
}

// Source supplies the next Request to run, or nil if there is none ready.
type Source interface {
	Next() *Request
}

// PlainQueue is a FIFO Source, the simplest scheduling policy — used for
// the seed testcases of a run, multiplexed with the driver's mutation source.
type PlainQueue struct {
	items []*Request
}

func (q *PlainQueue) Submit(req *Request) { q.items = append(q.items, req) }

func (q *PlainQueue) Next() *Request {
	if len(q.items) == 0 {
		return nil
	}
	req := q.items[0]
	q.items = q.items[1:]
	return req
}

func (q *PlainQueue) Len() int { return len(q.items) }

// SourceMultiplexer polls a list of Sources in round-robin order, letting
// the driver compose e.g. a seed-corpus source with a scheduler-driven
// mutation source without either knowing about the other.
type SourceMultiplexer struct {
	sources []Source
	next    int
}

func NewSourceMultiplexer(sources ...Source) *SourceMultiplexer {
	return &SourceMultiplexer{sources: sources}
}

func (m *SourceMultiplexer) Next() *Request {
	if len(m.sources) == 0 {
		return nil
	}
	for i := 0; i < len(m.sources); i++ {
		idx := (m.next + i) % len(m.sources)
		if req := m.sources[idx].Next(); req != nil {
			m.next = (idx + 1) % len(m.sources)
			return req
		}
	}
	return nil
}
