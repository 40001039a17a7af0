package security

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/keyxmakerx/sentinel/internal/apperror"
	"github.com/keyxmakerx/sentinel/internal/events"
	"github.com/keyxmakerx/sentinel/internal/metrics"
)

// Decision is the verdict of a chain evaluation.
type Decision int

const (
	// Proceed hands the request to the route handler. A principal may or
	// may not be attached (exempt paths are anonymous).
	Proceed Decision = iota

	// Succeeded means an interactive login completed on this request. The
	// success callback writes the response; the route handler never runs.
	Succeeded

	// Failed means authentication was rejected. The failure callback
	// writes the response.
	Failed

	// Errored means infrastructure (Redis, MariaDB) failed mid-evaluation.
	// The request is answered with a 500 and no authentication decision.
	Errored
)

// String returns the label used in logs and metrics.
func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "errored"
	}
}

// Outcome is what a filter, and therefore the chain, returns.
type Outcome struct {
	Decision  Decision
	Principal *Principal
	Failure   *AuthError
	Err       error
}

// Pass continues to the route handler with an optional principal.
func Pass(p *Principal) Outcome { return Outcome{Decision: Proceed, Principal: p} }

// Success completes an interactive login for p.
func Success(p *Principal) Outcome { return Outcome{Decision: Succeeded, Principal: p} }

// Fail rejects the request with err.
func Fail(err *AuthError) Outcome { return Outcome{Decision: Failed, Failure: err} }

// Abort stops evaluation because of an infrastructure error.
func Abort(err error) Outcome { return Outcome{Decision: Errored, Err: err} }

// Exchange is the per-request state threaded through the filters. It embeds
// the Echo context so filters read forms and cookies directly.
type Exchange struct {
	echo.Context

	// Principal is the identity established so far, if any.
	Principal *Principal

	// Exempt is set when the path matched an exemption pattern.
	Exempt bool

	// LoginAttempted is set once a filter has processed interactive login
	// input on this request, which keeps remember-me from also running.
	LoginAttempted bool

	// RememberMe is set when Principal came from a remember-me artifact.
	RememberMe bool
}

// NewExchange wraps an Echo context.
func NewExchange(c echo.Context) *Exchange {
	return &Exchange{Context: c}
}

// Ctx returns the request's context.Context.
func (ex *Exchange) Ctx() context.Context {
	return ex.Request().Context()
}

// RequestPath returns the raw URL path the router will match.
func (ex *Exchange) RequestPath() string {
	return ex.Request().URL.Path
}

// Next invokes the remainder of the chain.
type Next func(ex *Exchange) Outcome

// Filter is one stage of the chain. A filter either returns an Outcome
// itself (terminating evaluation) or delegates to next.
type Filter interface {
	Handle(ex *Exchange, next Next) Outcome
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(ex *Exchange, next Next) Outcome

// Handle calls f.
func (f FilterFunc) Handle(ex *Exchange, next Next) Outcome {
	return f(ex, next)
}

// Chain is an ordered list of filters plus the callbacks that turn an
// Outcome into a response.
type Chain struct {
	filters    []Filter
	success    SuccessHandler
	failure    FailureHandler
	sessions   SessionStrategy
	rememberMe RememberMeServices
	events     events.Publisher
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithSessions establishes a session for every successful login.
func WithSessions(s SessionStrategy) ChainOption {
	return func(ch *Chain) { ch.sessions = s }
}

// WithRememberMe notifies remember-me services of login results.
func WithRememberMe(r RememberMeServices) ChainOption {
	return func(ch *Chain) { ch.rememberMe = r }
}

// WithEvents publishes login success and failure events.
func WithEvents(p events.Publisher) ChainOption {
	return func(ch *Chain) { ch.events = p }
}

// NewChain builds a chain evaluating filters in the given order. Every
// failure, whichever filter produced it, goes to the same failure handler.
func NewChain(success SuccessHandler, failure FailureHandler, filters []Filter, opts ...ChainOption) *Chain {
	ch := &Chain{
		filters: filters,
		success: success,
		failure: failure,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Evaluate runs the filters against ex and returns the outcome without
// writing a response. Falling off the end of the chain proceeds with
// whatever principal was established.
func (ch *Chain) Evaluate(ex *Exchange) Outcome {
	var step func(i int) Next
	step = func(i int) Next {
		return func(ex *Exchange) Outcome {
			if i >= len(ch.filters) {
				return Pass(ex.Principal)
			}
			return ch.filters[i].Handle(ex, step(i+1))
		}
	}
	return step(0)(ex)
}

// Middleware returns Echo middleware that evaluates the chain for every
// request and dispatches the outcome.
func (ch *Chain) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ex := NewExchange(c)
			out := ch.Evaluate(ex)

			kind := "none"
			if out.Failure != nil {
				kind = string(out.Failure.Kind)
			}
			metrics.ChainOutcomes.WithLabelValues(out.Decision.String(), kind).Inc()
			metrics.ChainDuration.WithLabelValues(out.Decision.String()).Observe(time.Since(start).Seconds())

			return ch.dispatch(ex, out, next)
		}
	}
}

// dispatch turns an outcome into a response.
func (ch *Chain) dispatch(ex *Exchange, out Outcome, next echo.HandlerFunc) error {
	switch out.Decision {
	case Proceed:
		if out.Principal != nil {
			SetPrincipal(ex.Context, out.Principal)
		}
		return next(ex.Context)

	case Succeeded:
		return ch.onSuccess(ex, out.Principal)

	case Failed:
		failure := out.Failure
		if failure == nil {
			failure = NewAuthError(Unauthenticated)
		}
		return ch.onFailure(ex, failure)

	default:
		var appErr *apperror.AppError
		if errors.As(out.Err, &appErr) {
			return appErr
		}
		return apperror.NewInternal(out.Err)
	}
}

// onSuccess establishes the session, lets remember-me issue a token and
// hands the response to the success callback.
func (ch *Chain) onSuccess(ex *Exchange, p *Principal) error {
	if p == nil {
		return apperror.NewMissingContext()
	}
	if ch.sessions != nil {
		if err := ch.sessions.Establish(ex, p); err != nil {
			return apperror.NewInternal(err)
		}
	}
	SetPrincipal(ex.Context, p)

	// A remember-me issuing failure must not undo a valid login.
	if ch.rememberMe != nil {
		if err := ch.rememberMe.LoginSuccess(ex, p); err != nil {
			slog.Warn("failed to issue remember-me token",
				slog.String("username", p.Username),
				slog.Any("error", err),
			)
		}
	}

	slog.Info("login succeeded",
		slog.String("username", p.Username),
		slog.String("ip", ex.RealIP()),
	)
	events.Emit(ex.Ctx(), ch.events, events.SecurityEvent{
		Type:      events.LoginSucceeded,
		Username:  p.Username,
		IPAddress: ex.RealIP(),
		UserAgent: ex.Request().UserAgent(),
	})

	return ch.success.OnAuthenticationSuccess(ex, p)
}

// onFailure clears remember-me state for failed logins, records the
// failure and hands the response to the failure callback.
func (ch *Chain) onFailure(ex *Exchange, failure *AuthError) error {
	if ch.rememberMe != nil && failure.Kind.IsLoginAttempt() {
		ch.rememberMe.LoginFail(ex)
	}

	// Unauthenticated is the normal answer for anonymous browsing; only
	// real authentication attempts are worth an event.
	if failure.Kind != Unauthenticated {
		slog.Info("authentication failed",
			slog.String("kind", string(failure.Kind)),
			slog.String("path", ex.RequestPath()),
			slog.String("ip", ex.RealIP()),
			slog.Any("detail", failure.Internal),
		)
		events.Emit(ex.Ctx(), ch.events, events.SecurityEvent{
			Type:      events.LoginFailed,
			Failure:   string(failure.Kind),
			IPAddress: ex.RealIP(),
			UserAgent: ex.Request().UserAgent(),
		})
	}

	return ch.failure.OnAuthenticationFailure(ex, failure)
}
