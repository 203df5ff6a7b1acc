package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Snapshot is a point-in-time copy of a guard's view of the provider limits.
type Snapshot struct {
	Limits     map[Window]int
	Remaining  map[Window]int
	Cooldown   time.Time
	LastStatus int
	Blocked    int
}

// Guard enforces rate limits for a provider.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu         sync.Mutex
	remaining  map[Window]int
	limits     map[Window]int
	buckets    map[Window]*bucket
	hasHeaders map[Window]bool
	cooldown   time.Time
	lastStatus int
	blocked    int
}

// WrapHTTP wraps an http.Client with rate-limit enforcement and returns the guard for
// inspection.
func WrapHTTP(decl Declaration, base *http.Client) (*http.Client, *Guard) {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	guard := NewGuard(decl, time.Now)
	client.Transport = &roundTripper{base: transport, guard: guard}
	return &client, guard
}

func NewGuard(decl Declaration, now func() time.Time) *Guard {
	if now == nil {
		now = time.Now
	}
	g := &Guard{
		decl:       decl,
		now:        now,
		remaining:  make(map[Window]int),
		limits:     make(map[Window]int),
		buckets:    make(map[Window]*bucket),
		hasHeaders: make(map[Window]bool),
	}
	start := now()
	for window, limit := range decl.Limits {
		g.limits[window] = limit
		g.remaining[window] = limit
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit), last: start}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, RateLimitError{
			Provider: rt.guard.decl.Provider,
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one request from every window, or reports why it cannot.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	decision := g.decide(g.now())
	if !decision.Allowed {
		g.blocked++
		blockedCounter.WithLabelValues(g.decl.Provider, decision.Reason).Inc()
	}
	return decision
}

func (g *Guard) decide(now time.Time) Decision {
	if len(g.decl.Limits) == 0 {
		return Decision{Allowed: false, Reason: "disabled"}
	}

	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, limit := range g.limits {
		if g.hasHeaders[window] {
			if g.remaining[window] <= 0 {
				return Decision{Allowed: false, Reason: "budget", RetryAt: g.cooldown}
			}
			g.remaining[window]--
			continue
		}
		if limit <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		b := g.buckets[window]
		if !consumeToken(b, windowDuration(window), now) {
			retryAt := b.last.Add(windowDuration(window) / time.Duration(limit))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}

	return Decision{Allowed: true}
}

// RecordResponse applies the provider's rate headers. A 429 without Retry-After cools down
// for one minute.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.decl.Provider
	g.lastStatus = status
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	parsed := parseHeaders(headers, g.decl.Headers)
	now := g.now()

	switch {
	case parsed.retryAfter > 0:
		g.cooldown = now.Add(time.Duration(parsed.retryAfter) * time.Second)
		retryAfterGauge.WithLabelValues(provider).Set(float64(parsed.retryAfter))
	case parsed.resetAfter > 0 && g.cooldown.IsZero():
		g.cooldown = now.Add(time.Duration(parsed.resetAfter) * time.Second)
		retryAfterGauge.WithLabelValues(provider).Set(float64(parsed.resetAfter))
	case status == http.StatusTooManyRequests:
		g.cooldown = now.Add(time.Minute)
		retryAfterGauge.WithLabelValues(provider).Set(60)
	}

	updateWindow := func(window Window, remaining int, limit int) {
		if remaining < 0 {
			return
		}
		g.remaining[window] = remaining
		if limit > 0 {
			g.limits[window] = limit
		}
		g.hasHeaders[window] = true
		remainingGauge.WithLabelValues(provider, window.String()).Set(float64(remaining))
	}

	updateWindow(Minute, parsed.remainingMinute, parsed.limitMinute)
	updateWindow(Day, parsed.remainingDay, parsed.limitDay)
}

func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		Limits:     make(map[Window]int, len(g.limits)),
		Remaining:  make(map[Window]int, len(g.remaining)),
		Cooldown:   g.cooldown,
		LastStatus: g.lastStatus,
		Blocked:    g.blocked,
	}
	for w, v := range g.limits {
		s.Limits[w] = v
	}
	for w, v := range g.remaining {
		if !g.hasHeaders[w] {
			if b := g.buckets[w]; b != nil {
				v = int(b.tokens)
			}
		}
		s.Remaining[w] = v
	}
	return s
}

type parsedHeaders struct {
	limitMinute     int
	remainingMinute int
	limitDay        int
	remainingDay    int
	retryAfter      int
	resetAfter      int
}

func parseHeaders(h http.Header, cfg Headers) parsedHeaders {
	return parsedHeaders{
		limitMinute:     headerInt(h, cfg.LimitMinute),
		remainingMinute: headerInt(h, cfg.RemainingMinute),
		limitDay:        headerInt(h, cfg.LimitDay),
		remainingDay:    headerInt(h, cfg.RemainingDay),
		retryAfter:      headerInt(h, cfg.RetryAfter),
		resetAfter:      headerInt(h, cfg.ResetAfter),
	}
}

func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := strings.TrimSpace(h.Get(key))
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}

func windowDuration(window Window) time.Duration {
	switch window {
	case Minute:
		return time.Minute
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

func consumeToken(b *bucket, window time.Duration, now time.Time) bool {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}
