package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProvider returns the scripted errors in order, then reply.
type scriptedProvider struct {
	name  string
	model string
	reply string
	errs  []error

	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) Name() string  { return p.name }
func (p *scriptedProvider) Model() string { return p.model }

func (p *scriptedProvider) ChatWithMessages(_ context.Context, _ []Message, _ CompletionOptions) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= len(p.errs) {
		return "", p.errs[p.calls-1]
	}
	return p.reply, nil
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type memoryCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryCache() *memoryCache { return &memoryCache{data: map[string]string{}} }

func (c *memoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memoryCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

type testClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newTestRouter(t *testing.T, opts RouterOptions, providers ...Provider) (*Router, *testClock) {
	t.Helper()
	r, err := NewRouter(providers, opts)
	require.NoError(t, err)
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.now = func() time.Time { return clock.now }
	r.sleep = func(_ context.Context, d time.Duration) error {
		clock.sleeps = append(clock.sleeps, d)
		return nil
	}
	return r, clock
}

var userMsg = []Message{{Role: "user", Content: "what was the accuracy"}}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(nil, RouterOptions{})
	assert.Error(t, err)

	_, err = NewRouter([]Provider{&scriptedProvider{name: "a"}, &scriptedProvider{name: "a"}}, RouterOptions{})
	assert.Error(t, err)
}

func TestRouter_PreferredProviderFirst(t *testing.T) {
	a := &scriptedProvider{name: "local", model: "m1", reply: "from local"}
	b := &scriptedProvider{name: "groq", model: "m2", reply: "from groq"}
	r, _ := newTestRouter(t, RouterOptions{}, a, b)

	got, err := r.Complete(context.Background(), userMsg, CompletionOptions{PreferredProvider: "GROQ"})
	require.NoError(t, err)
	assert.Equal(t, "from groq", got)
	assert.Equal(t, 0, a.Calls())

	got, err = r.Complete(context.Background(), userMsg, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from local", got)
}

func TestRouter_RateLimitBackoff(t *testing.T) {
	tests := []struct {
		name       string
		errs       []error
		wantSleeps []time.Duration
		wantCalls  int
	}{
		{
			name:       "exponential backoff",
			errs:       []error{&StatusError{Code: http.StatusTooManyRequests, Body: "slow down"}, &StatusError{Code: http.StatusTooManyRequests, Body: "slow down"}},
			wantSleeps: []time.Duration{time.Second, 2 * time.Second},
			wantCalls:  3,
		},
		{
			name:       "retry hint wins when longer",
			errs:       []error{errors.New("429 rate limit: please retry in 4.5s")},
			wantSleeps: []time.Duration{4500 * time.Millisecond},
			wantCalls:  2,
		},
		{
			name:       "structured seconds hint",
			errs:       []error{errors.New("rate limit exceeded, retryDelay { seconds: 8 }")},
			wantSleeps: []time.Duration{8 * time.Second},
			wantCalls:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProvider{name: "local", model: "m", reply: "ok", errs: tt.errs}
			r, clock := newTestRouter(t, RouterOptions{MaxRetries: 3, RetryBaseDelay: time.Second}, p)

			got, err := r.Complete(context.Background(), userMsg, CompletionOptions{})
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
			assert.Equal(t, tt.wantSleeps, clock.sleeps)
			assert.Equal(t, tt.wantCalls, p.Calls())
		})
	}
}

func TestRouter_FallsThroughOnServerError(t *testing.T) {
	a := &scriptedProvider{name: "local", model: "m1", errs: []error{&StatusError{Code: http.StatusGatewayTimeout, Body: "gateway timeout"}}}
	b := &scriptedProvider{name: "groq", model: "m2", reply: "fallback"}
	r, clock := newTestRouter(t, RouterOptions{}, a, b)

	got, err := r.Complete(context.Background(), userMsg, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Equal(t, 1, a.Calls(), "timeouts are not retried on the same provider")
	assert.Empty(t, clock.sleeps)
}

func TestRouter_QuotaCooldown(t *testing.T) {
	quota := &StatusError{Code: http.StatusTooManyRequests, Body: "Quota exceeded for metric GenerateRequestsPerDay"}
	a := &scriptedProvider{name: "gemini", model: "m1", reply: "late", errs: []error{quota}}
	b := &scriptedProvider{name: "groq", model: "m2", reply: "fallback"}
	r, clock := newTestRouter(t, RouterOptions{QuotaCooldown: time.Minute}, a, b)

	got, err := r.Complete(context.Background(), userMsg, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	assert.Empty(t, clock.sleeps, "quota exhaustion skips retries")
	assert.Equal(t, clock.now.Add(time.Minute), r.CooldownUntil("gemini"))

	// While cooling down the provider is skipped entirely.
	_, err = r.Complete(context.Background(), []Message{{Role: "user", Content: "again"}}, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Calls())

	clock.now = clock.now.Add(2 * time.Minute)
	assert.True(t, r.CooldownUntil("gemini").IsZero())
	got, err = r.Complete(context.Background(), []Message{{Role: "user", Content: "third"}}, CompletionOptions{})
	require.NoError(t, err)
	assert.Equal(t, "late", got)
}

func TestRouter_AllCoolingDown(t *testing.T) {
	quota := errors.New("429: you exceeded your current quota")
	a := &scriptedProvider{name: "only", model: "m", errs: []error{quota}}
	r, _ := newTestRouter(t, RouterOptions{}, a)

	_, err := r.Complete(context.Background(), userMsg, CompletionOptions{})
	require.ErrorIs(t, err, ErrAllProvidersFailed)

	_, err = r.Complete(context.Background(), userMsg, CompletionOptions{})
	require.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestRouter_AllProvidersFail(t *testing.T) {
	a := &scriptedProvider{name: "a", model: "m", errs: []error{fmt.Errorf("connection refused")}}
	b := &scriptedProvider{name: "b", model: "m", errs: []error{&StatusError{Code: 500, Body: "boom"}}}
	r, _ := newTestRouter(t, RouterOptions{}, a, b)

	_, err := r.Complete(context.Background(), userMsg, CompletionOptions{})
	require.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestRouter_Cache(t *testing.T) {
	p := &scriptedProvider{name: "local", model: "m", reply: "cached answer"}
	cache := newMemoryCache()
	r, _ := newTestRouter(t, RouterOptions{Cache: cache}, p)

	opts := CompletionOptions{Temperature: 0.1, MaxTokens: 100, UseCache: true}
	for i := 0; i < 3; i++ {
		got, err := r.Complete(context.Background(), userMsg, opts)
		require.NoError(t, err)
		assert.Equal(t, "cached answer", got)
	}
	assert.Equal(t, 1, p.Calls())

	// Different parameters miss the cache.
	_, err := r.Complete(context.Background(), userMsg, CompletionOptions{Temperature: 0.2, MaxTokens: 100, UseCache: true})
	require.NoError(t, err)
	assert.Equal(t, 2, p.Calls())

	// Caching disabled always calls the provider.
	_, err = r.Complete(context.Background(), userMsg, CompletionOptions{Temperature: 0.1, MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, p.Calls())
}

func TestRouter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &scriptedProvider{name: "local", model: "m", errs: []error{context.Canceled}}
	r, _ := newTestRouter(t, RouterOptions{}, p)

	cancel()
	_, err := r.Complete(ctx, userMsg, CompletionOptions{})
	require.ErrorIs(t, err, context.Canceled)
}

// gatedProvider blocks every call until release is closed.
type gatedProvider struct {
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func (p *gatedProvider) Name() string  { return "local" }
func (p *gatedProvider) Model() string { return "m" }

func (p *gatedProvider) ChatWithMessages(ctx context.Context, _ []Message, _ CompletionOptions) (string, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		close(p.started)
	}
	select {
	case <-p.release:
		return "shared reply", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestRouter_CanceledCallerDoesNotFailSharedCall(t *testing.T) {
	p := &gatedProvider{started: make(chan struct{}), release: make(chan struct{})}
	r, _ := newTestRouter(t, RouterOptions{}, p)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Complete(ctxA, userMsg, CompletionOptions{})
		errA <- err
	}()
	<-p.started

	type result struct {
		reply string
		err   error
	}
	resB := make(chan result, 1)
	go func() {
		reply, err := r.Complete(context.Background(), userMsg, CompletionOptions{})
		resB <- result{reply, err}
	}()
	// Give B time to join the in-flight call before A goes away.
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(p.release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, "shared reply", res.reply)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
}

func TestCacheKey(t *testing.T) {
	base := CacheKey(userMsg, "m", 0.1, 100)
	assert.Len(t, base, len(cacheKeyPrefix)+16)
	assert.Equal(t, base, CacheKey([]Message{{Role: "user", Content: "what was the accuracy"}}, "m", 0.1, 100))

	variants := map[string]string{
		"model":       CacheKey(userMsg, "other", 0.1, 100),
		"temperature": CacheKey(userMsg, "m", 0.2, 100),
		"max tokens":  CacheKey(userMsg, "m", 0.1, 200),
		"messages":    CacheKey([]Message{{Role: "user", Content: "other"}}, "m", 0.1, 100),
	}
	for name, key := range variants {
		assert.NotEqual(t, base, key, name)
	}
}

func TestRetryDelayHint(t *testing.T) {
	tests := []struct {
		msg  string
		want time.Duration
	}{
		{"no hint here", 0},
		{"please retry in 4.854s", 4854 * time.Millisecond},
		{"retry in 2s ... seconds: 9", 9 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryDelayHint(tt.msg), tt.msg)
	}
}
