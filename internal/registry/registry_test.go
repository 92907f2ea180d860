package registry_test

import (
	"testing"

	"github.com/llmbridge/transllm/internal/adapters"
	"github.com/llmbridge/transllm/internal/ir"
	"github.com/llmbridge/transllm/internal/registry"
	"github.com/llmbridge/transllm/internal/translerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	adapters.BaseAdapter
	provider ir.Provider
}

func (s *stubAdapter) Provider() ir.Provider { return s.provider }
func (s *stubAdapter) ToCoreRequest(raw []byte) (*ir.CoreRequest, error)      { return nil, nil }
func (s *stubAdapter) FromCoreRequest(req *ir.CoreRequest) ([]byte, error)    { return nil, nil }
func (s *stubAdapter) ToCoreResponse(raw []byte) (*ir.CoreResponse, error)    { return nil, nil }
func (s *stubAdapter) FromCoreResponse(resp *ir.CoreResponse) ([]byte, error) { return nil, nil }
func (s *stubAdapter) ToCoreStreamEvent(raw []byte) ([]*ir.StreamEvent, error) { return nil, nil }
func (s *stubAdapter) FromCoreStreamEvent(event *ir.StreamEvent) ([]byte, error) {
	return nil, nil
}
func (s *stubAdapter) ResetStreamState() {}

func TestRegisterGetIsSupportedList(t *testing.T) {
	r := registry.New()
	r.Register(ir.ProviderOpenAI, func() adapters.Adapter { return &stubAdapter{provider: ir.ProviderOpenAI} })

	assert.True(t, r.IsSupported(ir.ProviderOpenAI))
	assert.False(t, r.IsSupported(ir.ProviderGemini))
	assert.Equal(t, []string{"openai"}, r.List())

	a, err := r.GetAdapter("OpenAI")
	require.NoError(t, err)
	assert.Equal(t, ir.ProviderOpenAI, a.Provider())
}

func TestGetAdapterUnsupported(t *testing.T) {
	r := registry.New()
	r.Register(ir.ProviderOpenAI, func() adapters.Adapter { return &stubAdapter{provider: ir.ProviderOpenAI} })

	_, err := r.GetAdapter("cohere")
	require.Error(t, err)

	var unsupported *translerr.UnsupportedProviderError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "cohere", unsupported.Provider)
	assert.Equal(t, []string{"openai"}, unsupported.Supported)
}

func TestUnregisterAndClear(t *testing.T) {
	r := registry.New()
	r.Register(ir.ProviderOpenAI, func() adapters.Adapter { return &stubAdapter{provider: ir.ProviderOpenAI} })
	r.Register(ir.ProviderGemini, func() adapters.Adapter { return &stubAdapter{provider: ir.ProviderGemini} })

	r.Unregister(ir.ProviderOpenAI)
	assert.False(t, r.IsSupported(ir.ProviderOpenAI))
	assert.True(t, r.IsSupported(ir.ProviderGemini))

	r.Clear()
	assert.Empty(t, r.List())
}

func TestGetAdapterReturnsFreshInstance(t *testing.T) {
	r := registry.New()
	r.Register(ir.ProviderOpenAI, func() adapters.Adapter { return &stubAdapter{provider: ir.ProviderOpenAI} })

	a1, err := r.GetAdapter("openai")
	require.NoError(t, err)
	a2, err := r.GetAdapter("openai")
	require.NoError(t, err)

	assert.NotSame(t, a1, a2)
}
