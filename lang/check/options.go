package check

import (
	"fmt"
	"time"

	"github.com/kbukum/flowforge/errors"
	"github.com/kbukum/flowforge/lang/ast"
)

// Backoff strategies recognized by the `backoff` option.
const (
	BackoffFixed       = "fixed"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// OnError strategies recognized by the `on_error` option.
const (
	OnErrorPropagate = "propagate"
	OnErrorSkip      = "skip"
	OnErrorLog       = "log"
	OnErrorWrap      = "wrap"
)

// Priority levels recognized by the `priority` option, and their numeric
// equivalents on the 0..100 scale.
var namedPriorities = map[string]int{
	"background": 10,
	"low":        30,
	"normal":     50,
	"high":       70,
	"critical":   90,
}

// ThrottleRate is a parsed `count/duration` throttle option value.
type ThrottleRate struct {
	Count    int
	Duration time.Duration
}

// CallOptions is the fully parsed and validated `with`-clause for one
// module call, ready for the compiler and execution engine to consume.
type CallOptions struct {
	Retry          int
	Timeout        time.Duration
	Delay          time.Duration
	Backoff        string
	Fallback       ast.Expr
	Cache          time.Duration
	CacheBackend   string
	Throttle       *ThrottleRate
	Concurrency    int
	OnError        string
	Lazy           bool
	Priority       int
	CircuitBreaker bool
}

func defaultOptions() CallOptions {
	return CallOptions{
		Backoff:      BackoffFixed,
		CacheBackend: "memory",
		OnError:      OnErrorPropagate,
		Priority:     namedPriorities["normal"],
	}
}

// optionsFor parses and statically validates a call's `with` clause,
// emitting OPTS001..OPTS007 diagnostics per the option-table rules.
func (c *Checker) optionsFor(call ast.Call) (CallOptions, bool) {
	if len(call.Options) == 0 {
		return CallOptions{}, false
	}
	opts := defaultOptions()
	var sawRetry, sawDelay, sawBackoff, sawCache, sawCacheBackend bool

	for _, opt := range call.Options {
		switch opt.Name {
		case "retry":
			n, ok := c.intLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "retry requires an integer literal")
				continue
			}
			sawRetry = true
			if n < 0 {
				c.errorf(errors.CodeOptsRetryNegative, opt.Span, "", "retry must be non-negative, got %d", n)
			} else if n > 10 {
				c.warnf(errors.CodeOptsRetryTooHigh, opt.Span, "retry count %d is unusually high", n)
			}
			opts.Retry = n
		case "timeout":
			d, ok := c.durationLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "timeout requires a duration")
				continue
			}
			opts.Timeout = d
		case "delay":
			d, ok := c.durationLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "delay requires a duration")
				continue
			}
			sawDelay = true
			opts.Delay = d
		case "backoff":
			s, ok := c.stringOrIdent(opt.Value)
			if !ok || (s != BackoffFixed && s != BackoffLinear && s != BackoffExponential) {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "",
					"backoff must be one of fixed, linear, exponential")
				continue
			}
			sawBackoff = true
			opts.Backoff = s
		case "fallback":
			opts.Fallback = opt.Value
		case "cache":
			d, ok := c.durationLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "cache requires a duration")
				continue
			}
			sawCache = true
			opts.Cache = d
		case "cache_backend":
			s, ok := c.stringOrIdent(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "cache_backend requires a string literal")
				continue
			}
			sawCacheBackend = true
			opts.CacheBackend = s
		case "throttle":
			rate, ok := c.throttleLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "throttle requires a count/duration rate")
				continue
			}
			opts.Throttle = &rate
		case "concurrency":
			n, ok := c.intLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "concurrency requires an integer literal")
				continue
			}
			if n <= 0 {
				c.errorf(errors.CodeOptsConcurrencyNonPositive, opt.Span, "", "concurrency must be positive, got %d", n)
			}
			opts.Concurrency = n
		case "on_error":
			s, ok := c.stringOrIdent(opt.Value)
			if !ok || (s != OnErrorPropagate && s != OnErrorSkip && s != OnErrorLog && s != OnErrorWrap) {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "",
					"on_error must be one of propagate, skip, log, wrap")
				continue
			}
			opts.OnError = s
		case "lazy":
			b, ok := c.boolLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "lazy requires a boolean literal")
				continue
			}
			opts.Lazy = b
		case "priority":
			p, ok := c.priorityValue(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "",
					"priority must be a named level or an integer 0..100")
				continue
			}
			opts.Priority = p
		case "circuit_breaker":
			b, ok := c.boolLiteral(opt.Value)
			if !ok {
				c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "circuit_breaker requires a boolean literal")
				continue
			}
			opts.CircuitBreaker = b
		default:
			c.errorf(errors.CodeInvalidOptionValue, opt.Span, "", "unrecognized option %q", opt.Name)
		}
	}

	if sawDelay && !sawRetry {
		c.warnf(errors.CodeOptsDelayWithoutRetry, call.Spn(), "delay has no effect without retry")
	}
	if sawBackoff && !sawDelay {
		c.warnf(errors.CodeOptsBackoffWithoutDelay, call.Spn(), "backoff has no effect without delay")
	}
	if sawBackoff && !sawRetry {
		c.warnf(errors.CodeOptsBackoffWithoutRetry, call.Spn(), "backoff has no effect without retry")
	}
	if sawCacheBackend && !sawCache {
		c.warnf(errors.CodeOptsCacheBackendNoCache, call.Spn(), "cache_backend has no effect without cache")
	}

	return opts, true
}

func (c *Checker) intLiteral(e ast.Expr) (int, bool) {
	// The parser lowers a negative literal -n to BinOp 0 - n, with the
	// synthetic zero carrying the minus token's span.
	if neg, ok := e.(ast.BinOp); ok && neg.Op == "-" {
		if zero, ok := neg.Left.(ast.LiteralExpr); ok && zero.Lit.Kind == ast.LitInt && zero.Lit.Int == 0 && zero.Spn() == neg.Spn() {
			if n, ok := c.intLiteral(neg.Right); ok {
				return -n, true
			}
		}
	}
	lit, ok := e.(ast.LiteralExpr)
	if !ok || lit.Lit.Kind != ast.LitInt {
		return 0, false
	}
	return int(lit.Lit.Int), true
}

func (c *Checker) boolLiteral(e ast.Expr) (bool, bool) {
	lit, ok := e.(ast.LiteralExpr)
	if !ok || lit.Lit.Kind != ast.LitBool {
		return false, false
	}
	return lit.Lit.Bool, true
}

// stringOrIdent accepts either a string literal or a bare identifier as an
// option value, since the grammar's OptionValue is underspecified for enum-
// like options (`backoff: exponential` vs `backoff: "exponential"`).
func (c *Checker) stringOrIdent(e ast.Expr) (string, bool) {
	switch n := e.(type) {
	case ast.LiteralExpr:
		if n.Lit.Kind == ast.LitString {
			return n.Lit.Str, true
		}
	case ast.Ident:
		return n.Name, true
	}
	return "", false
}

// durationLiteral accepts a string literal parseable by time.ParseDuration
// (e.g. "100ms", "5s", "1h") or a bare integer literal taken as
// milliseconds.
func (c *Checker) durationLiteral(e ast.Expr) (time.Duration, bool) {
	lit, ok := e.(ast.LiteralExpr)
	if !ok {
		return 0, false
	}
	switch lit.Lit.Kind {
	case ast.LitString:
		d, err := time.ParseDuration(lit.Lit.Str)
		if err != nil {
			return 0, false
		}
		return d, true
	case ast.LitInt:
		return time.Duration(lit.Lit.Int) * time.Millisecond, true
	}
	return 0, false
}

// throttleLiteral accepts a string literal of the form "count/duration",
// e.g. "100/1s".
func (c *Checker) throttleLiteral(e ast.Expr) (ThrottleRate, bool) {
	lit, ok := e.(ast.LiteralExpr)
	if !ok || lit.Lit.Kind != ast.LitString {
		return ThrottleRate{}, false
	}
	var count int
	var durText string
	n, err := fmt.Sscanf(lit.Lit.Str, "%d/%s", &count, &durText)
	if err != nil || n != 2 {
		return ThrottleRate{}, false
	}
	d, err := time.ParseDuration(durText)
	if err != nil {
		return ThrottleRate{}, false
	}
	return ThrottleRate{Count: count, Duration: d}, true
}

func (c *Checker) priorityValue(e ast.Expr) (int, bool) {
	if n, ok := c.intLiteral(e); ok {
		if n < 0 || n > 100 {
			return 0, false
		}
		return n, true
	}
	if s, ok := c.stringOrIdent(e); ok {
		if p, ok := namedPriorities[s]; ok {
			return p, true
		}
	}
	return 0, false
}
