package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"paperqa/internal/contextutil"
	"paperqa/internal/metrics"
)

const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 3 * time.Second
	DefaultQuotaCooldown  = 300 * time.Second
	DefaultCallTimeout    = 2 * time.Minute
)

// Markers of daily or project quota exhaustion. Generic "quota exceeded" is a short
// throttling window and is retried instead.
var hardQuotaMarkers = []string{
	"generaterequestsperday",
	"perdayperprojectpermodel",
	"free_tier_requests",
	"per day",
	"current quota",
}

var (
	retryInPattern  = regexp.MustCompile(`retry in\s+(\d+(?:\.\d+)?)s`)
	retrySecPattern = regexp.MustCompile(`seconds:\s*(\d+)`)
)

// RouterOptions configures a Router.
type RouterOptions struct {
	MaxRetries         int           // Attempts per provider on rate limiting
	RetryBaseDelay     time.Duration // Backoff is RetryBaseDelay * 2^attempt
	QuotaCooldown      time.Duration // Skip window after hard quota exhaustion
	MinRequestInterval time.Duration // Per-provider spacing between requests; 0 disables
	CallTimeout        time.Duration // Upper bound on one shared completion across all providers
	Cache              Cache         // Optional response cache
	Metrics            *metrics.Metrics
}

// Router implements Completer over several providers. It tries the preferred provider
// first, retries rate-limited calls with exponential backoff, cools a provider down after
// hard quota exhaustion and falls through to the next provider on any other failure.
type Router struct {
	providers []Provider
	limiters  map[string]*rate.Limiter
	opts      RouterOptions

	mu       sync.Mutex
	cooldown map[string]time.Time

	group singleflight.Group
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter creates a router. Providers are tried in the given order unless a call
// names a preferred one.
func NewRouter(providers []Provider, opts RouterOptions) (*Router, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.QuotaCooldown <= 0 {
		opts.QuotaCooldown = DefaultQuotaCooldown
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	r := &Router{
		providers: providers,
		limiters:  make(map[string]*rate.Limiter, len(providers)),
		opts:      opts,
		cooldown:  make(map[string]time.Time, len(providers)),
		now:       time.Now,
		sleep:     sleepContext,
	}
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("duplicate provider name %q", p.Name())
		}
		seen[p.Name()] = true
		if opts.MinRequestInterval > 0 {
			r.limiters[p.Name()] = rate.NewLimiter(rate.Every(opts.MinRequestInterval), 1)
		}
	}
	return r, nil
}

// Providers returns provider names in registration order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Complete returns a completion from the first provider that succeeds.
// Identical concurrent calls share one provider call. The shared call is detached from
// any single caller's cancellation; a canceled caller stops waiting without failing the others.
func (r *Router) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "llm_router")
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("completion canceled: %w", err)
	}

	order := r.available(r.ordered(opts.PreferredProvider))
	if len(order) == 0 {
		return "", ErrQuotaExhausted
	}

	key := CacheKey(messages, order[0].Model(), opts.Temperature, opts.MaxTokens)
	if opts.UseCache && r.opts.Cache != nil {
		cached, ok, err := r.opts.Cache.Get(ctx, key)
		if err != nil {
			logger.Warn("cache read failed", "error", err)
		}
		r.opts.Metrics.ObserveCache(ok)
		if ok {
			logger.Debug("returning cached completion", "key", key)
			return cached, nil
		}
	}

	ch := r.group.DoChan(key+"|"+order[0].Name(), func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CallTimeout)
		defer cancel()
		return r.tryProviders(callCtx, order, messages, opts)
	})

	select {
	case <-ctx.Done():
		logger.Debug("caller stopped waiting for completion", "key", key)
		return "", fmt.Errorf("completion canceled: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			logger.Debug("shared in-flight completion", "key", key)
		}
		return res.Val.(string), nil
	}
}

func (r *Router) tryProviders(ctx context.Context, order []Provider, messages []Message, opts CompletionOptions) (string, error) {
	logger := contextutil.LoggerFromContext(ctx).With("component", "llm_router")

	var lastErr error
	for _, p := range order {
		name := p.Name()
		for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
			if lim := r.limiters[name]; lim != nil {
				if err := lim.Wait(ctx); err != nil {
					return "", fmt.Errorf("failed to wait for rate limiter: %w", err)
				}
			}

			logger.Debug("calling provider", "provider", name, "attempt", attempt+1, "max_attempts", r.opts.MaxRetries)
			start := r.now()
			reply, err := p.ChatWithMessages(ctx, messages, opts)
			elapsed := r.now().Sub(start)
			if err == nil {
				r.opts.Metrics.ObserveLLMCall(name, "ok", elapsed)
				if opts.UseCache && r.opts.Cache != nil {
					key := CacheKey(messages, p.Model(), opts.Temperature, opts.MaxTokens)
					if cerr := r.opts.Cache.Set(ctx, key, reply); cerr != nil {
						logger.Warn("cache write failed", "error", cerr)
					}
				}
				return reply, nil
			}

			lastErr = err
			if ctx.Err() != nil {
				r.opts.Metrics.ObserveLLMCall(name, "canceled", elapsed)
				return "", fmt.Errorf("completion canceled: %w", ctx.Err())
			}

			msg := strings.ToLower(err.Error())
			if !isRateLimited(err, msg) {
				r.opts.Metrics.ObserveLLMCall(name, "error", elapsed)
				logger.Warn("provider failed, trying next provider", "provider", name, "attempt", attempt+1, "error", err)
				break
			}

			r.opts.Metrics.ObserveLLMCall(name, "rate_limited", elapsed)
			hint := retryDelayHint(msg)
			if isQuotaExhausted(msg) {
				cool := r.opts.QuotaCooldown
				if hint > 0 {
					cool = hint
				}
				r.setCooldown(name, cool)
				logger.Warn("provider quota exhausted, cooling down", "provider", name, "cooldown", cool)
				break
			}

			if attempt == r.opts.MaxRetries-1 {
				break
			}
			backoff := backoffDelay(r.opts.RetryBaseDelay, attempt)
			if hint > backoff {
				backoff = hint
			}
			logger.Warn("provider rate limited, backing off", "provider", name, "attempt", attempt+1, "backoff", backoff)
			if err := r.sleep(ctx, backoff); err != nil {
				return "", fmt.Errorf("completion canceled: %w", err)
			}
		}
	}

	logger.Error("all providers failed", "error", lastErr)
	return "", fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, lastErr)
}

// ordered returns providers with the preferred one first.
func (r *Router) ordered(preferred string) []Provider {
	out := make([]Provider, 0, len(r.providers))
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if preferred != "" {
		for _, p := range r.providers {
			if strings.ToLower(p.Name()) == preferred {
				out = append(out, p)
			}
		}
	}
	for _, p := range r.providers {
		if len(out) > 0 && p.Name() == out[0].Name() {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Router) available(providers []Provider) []Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	out := providers[:0]
	for _, p := range providers {
		if until, ok := r.cooldown[p.Name()]; ok && now.Before(until) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Router) setCooldown(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cooldown[name] = r.now().Add(d)
}

// CooldownUntil reports when a provider becomes available again; zero if it is available.
func (r *Router) CooldownUntil(name string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	until := r.cooldown[name]
	if !r.now().Before(until) {
		return time.Time{}
	}
	return until
}

func isRateLimited(err error, msg string) bool {
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusTooManyRequests {
		return true
	}
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

func isQuotaExhausted(msg string) bool {
	for _, marker := range hardQuotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryDelayHint extracts the largest server-recommended delay from an error message.
func retryDelayHint(msg string) time.Duration {
	var best float64
	for _, m := range retryInPattern.FindAllStringSubmatch(msg, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > best {
			best = v
		}
	}
	for _, m := range retrySecPattern.FindAllStringSubmatch(msg, -1) {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > best {
			best = v
		}
	}
	return time.Duration(math.Round(best * float64(time.Second)))
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
