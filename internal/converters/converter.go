// Package converters implements the request/response converter (C8) and the
// stateful stream converter (C9) that sit on top of the registry and
// adapters packages.
package converters

import (
	"fmt"

	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/registry"
	"github.com/llmbridge/transllm/internal/translerr"
)

// RequestResponseConverter translates a complete (non-streaming) request or
// response between two dialects via the IR. It holds no per-session state —
// a new instance costs nothing and callers are expected to build one per
// request rather than share it (Open Question (a)).
type RequestResponseConverter struct {
	registry *registry.Registry
}

// New builds a converter backed by reg.
func New(reg *registry.Registry) *RequestResponseConverter {
	return &RequestResponseConverter{registry: reg}
}

// ConvertRequest translates raw, expressed in the "from" dialect, into the
// "to" dialect's wire format.
func (c *RequestResponseConverter) ConvertRequest(from, to string, raw []byte) ([]byte, error) {
	source, err := c.registry.GetAdapter(from)
	if err != nil {
		return nil, err
	}

	target, err := c.registry.GetAdapter(to)
	if err != nil {
		return nil, err
	}

	core, err := source.ToCoreRequest(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s request: %w", from, err)
	}

	out, err := target.FromCoreRequest(core)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", to, err)
	}

	return out, nil
}

// ConvertResponse translates raw, expressed in the "from" dialect, into the
// "to" dialect's wire format.
func (c *RequestResponseConverter) ConvertResponse(from, to string, raw []byte) ([]byte, error) {
	source, err := c.registry.GetAdapter(from)
	if err != nil {
		return nil, err
	}

	target, err := c.registry.GetAdapter(to)
	if err != nil {
		return nil, err
	}

	core, err := source.ToCoreResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", from, err)
	}

	out, err := target.FromCoreResponse(core)
	if err != nil {
		return nil, fmt.Errorf("encode %s response: %w", to, err)
	}

	return out, nil
}

// CheckRequestIdempotency converts raw (in provider's own dialect) to the IR
// and back, and reports whether the round trip reproduced the original
// structurally (P-series properties). This never mutates raw.
func (c *RequestResponseConverter) CheckRequestIdempotency(provider string, raw []byte) error {
	adapter, err := c.registry.GetAdapter(provider)
	if err != nil {
		return err
	}

	core, err := adapter.ToCoreRequest(raw)
	if err != nil {
		return fmt.Errorf("decode %s request: %w", provider, err)
	}

	roundTripped, err := adapter.FromCoreRequest(core)
	if err != nil {
		return fmt.Errorf("re-encode %s request: %w", provider, err)
	}

	var original, final any
	if !unmarshalBoth(raw, roundTripped, &original, &final) {
		return &translerr.IdempotencyError{Original: string(raw), Final: string(roundTripped), Diff: "could not parse one side as JSON"}
	}

	if !ir.StructurallyEqual(original, final) {
		return &translerr.IdempotencyError{Original: original, Final: final, Diff: "request round trip diverged"}
	}

	return nil
}

// CheckResponseIdempotency is CheckRequestIdempotency's response-side
// counterpart.
func (c *RequestResponseConverter) CheckResponseIdempotency(provider string, raw []byte) error {
	adapter, err := c.registry.GetAdapter(provider)
	if err != nil {
		return err
	}

	core, err := adapter.ToCoreResponse(raw)
	if err != nil {
		return fmt.Errorf("decode %s response: %w", provider, err)
	}

	roundTripped, err := adapter.FromCoreResponse(core)
	if err != nil {
		return fmt.Errorf("re-encode %s response: %w", provider, err)
	}

	var original, final any
	if !unmarshalBoth(raw, roundTripped, &original, &final) {
		return &translerr.IdempotencyError{Original: string(raw), Final: string(roundTripped), Diff: "could not parse one side as JSON"}
	}

	if !ir.StructurallyEqual(original, final) {
		return &translerr.IdempotencyError{Original: original, Final: final, Diff: "response round trip diverged"}
	}

	return nil
}
