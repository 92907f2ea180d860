// Package adapters defines the contract every dialect adapter implements:
// translating requests, responses and streaming events to and from the
// shared intermediate representation, plus the session-scoped bookkeeping
// (sequence ids, timestamps) common to all of them.
package adapters

import (
	"sync/atomic"
	"time"

	"github.com/llmbridge/transllm/internal/ir"
)

// Adapter is the per-dialect translation contract (spec C3). Implementations
// carry per-session stream bookkeeping: the embedded BaseAdapter's sequence
// counter plus their own dialect-specific fields, all cleared by
// ResetStreamState.
type Adapter interface {
	Provider() ir.Provider

	ToCoreRequest(raw []byte) (*ir.CoreRequest, error)
	FromCoreRequest(req *ir.CoreRequest) ([]byte, error)

	ToCoreResponse(raw []byte) (*ir.CoreResponse, error)
	FromCoreResponse(resp *ir.CoreResponse) ([]byte, error)

	// ToCoreStreamEvent decodes one dialect-framed wire event (e.g. one parsed
	// SSE `data:` payload) into zero or more normalized StreamEvents, in
	// emission order. A chunked wire format like OpenAI's or Gemini's can fold
	// metadata, a content-block open, and its first delta into a single wire
	// event; the adapter fans those out here rather than dropping all but one.
	// Implementations stamp SequenceID/Timestamp via BaseAdapter.NextEvent
	// rather than setting those fields themselves.
	ToCoreStreamEvent(raw []byte) ([]*ir.StreamEvent, error)
	FromCoreStreamEvent(event *ir.StreamEvent) ([]byte, error)

	// ResetStreamState clears any per-session bookkeeping (open content
	// block indices, whether metadata has been emitted yet, ...) so the
	// adapter can be reused for a new session without bleeding state from
	// the previous one.
	ResetStreamState()
}

// BaseAdapter provides the sequence_id/timestamp auto-increment wrapper
// every concrete adapter embeds, mirroring the wrapper every dialect-specific
// stream conversion goes through before a StreamEvent leaves the adapter.
type BaseAdapter struct {
	seq       atomic.Int64
	startTime atomic.Int64 // unix nanoseconds of the first stamped event, 0 until then
}

// NextEvent stamps SequenceID and Timestamp on event and returns it. Dialect
// adapters call this as the last step before returning from
// ToCoreStreamEvent, never setting those two fields directly. SequenceID
// starts at 0; Timestamp is seconds elapsed since the first event of the
// session.
func (b *BaseAdapter) NextEvent(event *ir.StreamEvent) *ir.StreamEvent {
	event.SequenceID = int(b.seq.Add(1) - 1)
	event.Timestamp = b.secondsSinceStart()

	return event
}

func (b *BaseAdapter) secondsSinceStart() int64 {
	now := time.Now().UnixNano()

	b.startTime.CompareAndSwap(0, now)

	return (now - b.startTime.Load()) / int64(time.Second)
}

// ResetSequence resets the sequence counter and the session start timestamp.
// Concrete adapters call this from their own ResetStreamState alongside
// clearing their dialect-specific bookkeeping.
func (b *BaseAdapter) ResetSequence() {
	b.seq.Store(0)
	b.startTime.Store(0)
}
