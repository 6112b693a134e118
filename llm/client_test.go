// ABOUTME: Tests for Client provider routing, middleware chaining, and FromEnv API-key detection.
// ABOUTME: Uses fakeAdapter stand-ins rather than real provider HTTP calls.

package llm

import (
	"context"
	"testing"
)

// fakeAdapter is a minimal ProviderAdapter test double that records the last
// request it saw and returns a canned response.
type fakeAdapter struct {
	name     string
	lastReq  Request
	response *Response
	err      error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	if f.response != nil {
		return f.response, nil
	}
	return &Response{Provider: f.name}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	f.lastReq = req
	ch := make(chan StreamEvent, 1)
	reason := FinishReason{Reason: FinishStop}
	ch <- StreamEvent{Type: StreamFinish, FinishReason: &reason}
	close(ch)
	return ch, nil
}

func (f *fakeAdapter) Close() error { return nil }

var _ ProviderAdapter = (*fakeAdapter)(nil)

func TestClientFirstRegisteredProviderBecomesDefault(t *testing.T) {
	c := NewClient(
		WithProvider("anthropic", &fakeAdapter{name: "anthropic"}),
		WithProvider("openai", &fakeAdapter{name: "openai"}),
	)

	resp, err := c.Complete(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "anthropic" {
		t.Errorf("Provider = %q, want the first registered provider", resp.Provider)
	}
}

func TestClientRequestProviderOverridesDefault(t *testing.T) {
	c := NewClient(
		WithProvider("anthropic", &fakeAdapter{name: "anthropic"}),
		WithProvider("openai", &fakeAdapter{name: "openai"}),
	)

	resp, err := c.Complete(context.Background(), Request{Model: "m", Provider: "openai"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", resp.Provider)
	}
}

func TestClientCompleteUnknownProviderErrors(t *testing.T) {
	c := NewClient(WithProvider("anthropic", &fakeAdapter{name: "anthropic"}))
	_, err := c.Complete(context.Background(), Request{Model: "m", Provider: "nonexistent"})
	if err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}

func TestClientNoProviderConfiguredErrors(t *testing.T) {
	c := NewClient()
	_, err := c.Complete(context.Background(), Request{Model: "m"})
	if err == nil {
		t.Fatal("expected an error when no provider is registered and none is requested")
	}
}

func TestClientMiddlewareRunsInRegistrationOrder(t *testing.T) {
	var order []string
	mwA := func(ctx context.Context, req Request, next NextFunc) (*Response, error) {
		order = append(order, "a-before")
		resp, err := next(ctx, req)
		order = append(order, "a-after")
		return resp, err
	}
	mwB := func(ctx context.Context, req Request, next NextFunc) (*Response, error) {
		order = append(order, "b-before")
		resp, err := next(ctx, req)
		order = append(order, "b-after")
		return resp, err
	}

	c := NewClient(
		WithProvider("anthropic", &fakeAdapter{name: "anthropic"}),
		WithMiddleware(mwA, mwB),
	)

	if _, err := c.Complete(context.Background(), Request{Model: "m"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	want := []string{"a-before", "b-before", "b-after", "a-after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestClientStreamRoutesToDefaultProvider(t *testing.T) {
	adapter := &fakeAdapter{name: "anthropic"}
	c := NewClient(WithProvider("anthropic", adapter))

	ch, err := c.Stream(context.Background(), Request{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	ev, ok := <-ch
	if !ok || ev.Type != StreamFinish {
		t.Errorf("expected a single StreamFinish event, got %+v ok=%v", ev, ok)
	}
}

func TestFromEnvDetectsConfiguredProviders(t *testing.T) {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("OPENAI_API_KEY", "sk-test-openai")

	c, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if _, ok := c.providers["openai"]; !ok {
		t.Error("expected an openai provider to be registered")
	}
	if c.defaultProvider != "openai" {
		t.Errorf("defaultProvider = %q, want openai", c.defaultProvider)
	}
}

func TestFromEnvNoKeysReturnsConfigurationError(t *testing.T) {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY"} {
		t.Setenv(k, "")
	}

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected an error when no provider API keys are set")
	}
	var cfgErr *ConfigurationError
	if !asConfigurationError(err, &cfgErr) {
		t.Errorf("error type = %T, want *ConfigurationError", err)
	}
}

func asConfigurationError(err error, target **ConfigurationError) bool {
	ce, ok := err.(*ConfigurationError)
	if ok {
		*target = ce
	}
	return ok
}

func TestCreateAdapterForProviderNamesEachAdapter(t *testing.T) {
	cases := map[string]string{
		"anthropic": "anthropic",
		"openai":    "openai",
		"gemini":    "gemini",
		"unknown":   "anthropic", // falls back to the default adapter
	}
	for providerName, wantAdapterName := range cases {
		adapter := createAdapterForProvider(providerName, "key", "")
		if adapter.Name() != wantAdapterName {
			t.Errorf("createAdapterForProvider(%q).Name() = %q, want %q", providerName, adapter.Name(), wantAdapterName)
		}
	}
}
