package rate

// Window is the span over which a request budget refills.
type Window int

const (
	Minute Window = iota
	Day
)

var windowNames = map[Window]string{Minute: "minute", Day: "day"}

func (w Window) String() string {
	if name, ok := windowNames[w]; ok {
		return name
	}
	return "unknown"
}

// Headers names the response headers a provider reports its budget in. Empty names are
// not read.
type Headers struct {
	LimitMinute     string
	RemainingMinute string
	LimitDay        string
	RemainingDay    string
	RetryAfter      string
	ResetAfter      string
}

// StandardHeaders is the X-RateLimit-* family plus Retry-After.
func StandardHeaders() Headers {
	return Headers{
		LimitMinute:     "X-RateLimit-Limit-minute",
		RemainingMinute: "X-RateLimit-Remaining-minute",
		LimitDay:        "X-RateLimit-Limit-day",
		RemainingDay:    "X-RateLimit-Remaining-day",
		RetryAfter:      "Retry-After",
		ResetAfter:      "ratelimit-reset",
	}
}

// Declaration is the request budget a Guard enforces for one provider. A declaration with
// no limits blocks every call.
type Declaration struct {
	Provider string
	Limits   map[Window]int
	Headers  Headers
}

// RateLimited is implemented by plugins that call a budgeted provider.
type RateLimited interface {
	RateLimits() Declaration
}
