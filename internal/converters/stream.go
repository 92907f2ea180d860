package converters

import (
	"fmt"
	"sync"

	"github.com/llmbridge/transllm/internal/adapters"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/registry"
)

// StreamConverter drives dialect adapters across a live sequence of SSE
// events for one streaming session. Unlike RequestResponseConverter, it is
// stateful: it caches one adapter instance per ir.Provider it has seen so
// far, because a dialect adapter's streaming bookkeeping (open content block
// indices, whether metadata has been emitted yet, which block each tool
// call was opened under) must persist across every event within a session. Callers must
// construct a new StreamConverter per session and never share one across
// sessions (Open Question (a): state bleed across sessions is a bug).
type StreamConverter struct {
	registry *registry.Registry

	mu    sync.Mutex
	cache map[ir.Provider]adapters.Adapter
}

// NewStreamConverter builds an empty StreamConverter backed by reg.
func NewStreamConverter(reg *registry.Registry) *StreamConverter {
	return &StreamConverter{registry: reg, cache: make(map[ir.Provider]adapters.Adapter)}
}

func (s *StreamConverter) adapterFor(provider string) (adapters.Adapter, ir.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.registry.GetAdapter(provider)
	if err != nil {
		return nil, "", err
	}

	p := a.Provider()

	if cached, ok := s.cache[p]; ok {
		return cached, p, nil
	}

	s.cache[p] = a

	return a, p, nil
}

// ConvertEvent decodes one raw event in the "from" dialect, normalizes it to
// the IR via the cached "from" adapter, then encodes each resulting event in
// the "to" dialect via the cached "to" adapter. Both adapters retain their
// streaming bookkeeping between calls. One raw wire event can decode to
// several IR events (e.g. a chunk that both primes metadata and opens a
// content block), so this returns one wire payload per forwarded IR event,
// in order. When from and to name the same dialect, raw is returned
// unchanged as the only payload and neither adapter decodes it.
func (s *StreamConverter) ConvertEvent(from, to string, raw []byte) ([][]byte, error) {
	sourceAdapter, _, err := s.adapterFor(from)
	if err != nil {
		return nil, err
	}

	targetAdapter, _, err := s.adapterFor(to)
	if err != nil {
		return nil, err
	}

	if from == to {
		return [][]byte{raw}, nil
	}

	events, err := sourceAdapter.ToCoreStreamEvent(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s stream event: %w", from, err)
	}

	var out [][]byte

	for _, event := range events {
		if event == nil || !s.shouldForward(from, to, event) {
			continue
		}

		wire, err := targetAdapter.FromCoreStreamEvent(event)
		if err != nil {
			return nil, fmt.Errorf("encode %s stream event: %w", to, err)
		}

		out = append(out, wire)
	}

	return out, nil
}

// shouldForward implements the Open Question (b) decision: an event of a
// type the target dialect has no representation for is preserved only when
// source and target are the same dialect (pure passthrough); otherwise it is
// dropped rather than inventing information the target can't actually
// express. Every StreamEventType this module defines is accepted by all three
// adapters' FromCoreStreamEvent, so in practice this only matters for a
// future dialect added without full event coverage. A wire event the source
// adapter does not recognise reaches this point as a metadata_update and is
// forwarded like any other.
func (s *StreamConverter) shouldForward(from, to string, event *ir.StreamEvent) bool {
	if from == to {
		return true
	}

	switch event.Type {
	case ir.EventMetadataUpdate, ir.EventContentStart, ir.EventContentDelta,
		ir.EventContentFinish, ir.EventToolCallDelta, ir.EventToolCall,
		ir.EventStreamEnd, ir.EventError:
		return true
	default:
		return false
	}
}

// ResetStreamState clears the cached adapter's bookkeeping for provider, if
// one has been created in this session, without discarding the cached
// instance itself.
func (s *StreamConverter) ResetStreamState(provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p, a := range s.cache {
		if string(p) == provider {
			a.ResetStreamState()
			return
		}
	}
}

// ResetAllStates resets every adapter this session has cached.
func (s *StreamConverter) ResetAllStates() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.cache {
		a.ResetStreamState()
	}
}

// CheckEventIdempotency converts raw (in provider's own dialect) to the IR
// and back through the same adapter instance used for live conversion, and
// reports whether the round trip reproduced the original structurally. raw
// may decode to several IR events; each is round-tripped and checked against
// raw independently, since a single chunk's content is scattered across all
// of them (e.g. one event carries the opened block, another its delta).
func (s *StreamConverter) CheckEventIdempotency(provider string, raw []byte) error {
	a, _, err := s.adapterFor(provider)
	if err != nil {
		return err
	}

	events, err := a.ToCoreStreamEvent(raw)
	if err != nil {
		return fmt.Errorf("decode %s stream event: %w", provider, err)
	}

	for _, event := range events {
		roundTripped, err := a.FromCoreStreamEvent(event)
		if err != nil {
			return fmt.Errorf("re-encode %s stream event: %w", provider, err)
		}

		var original, final any
		if !unmarshalBoth(raw, roundTripped, &original, &final) {
			return fmt.Errorf("could not parse one side of the round trip as JSON")
		}

		if !ir.StructurallyEqual(original, final) {
			return fmt.Errorf("stream event round trip diverged")
		}
	}

	return nil
}
