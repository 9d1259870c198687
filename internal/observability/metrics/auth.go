package metrics

import (
	"time"

	obserrors "github.com/civicpulse/sessionkit/internal/observability/errors"
	"github.com/civicpulse/sessionkit/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess  = "success"
	ResultError    = "error"
	ResultTimeout  = "timeout"
	ResultStale    = "stale"
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
	ResultShortcut = "shortcut"
)

// Metric names.
const (
	SessionTransition = "session.transition"
	EnrichResult      = "profile.enrich"
	EnrichDuration    = "profile.enrich.duration"
	LogoutResult      = "session.logout"
	LogoutDuration    = "session.logout.duration"
	AdminCheck        = "admin.check"
	LoginAttempt      = "auth.attempt"
	SafetyTimeout     = "session.safety_timeout"
)

// Outcome captures a single bounded remote call for metric emission.
type Outcome struct {
	Result   string
	Duration time.Duration
	Err      error
}

// EmitTransition counts a published state change, tagged by the resulting
// phase and the event that caused it.
func EmitTransition(sink statsd.Sink, phase, cause string) {
	if sink == nil {
		return
	}
	sink.Count(SessionTransition, 1, map[string]string{"phase": phase, "cause": cause})
}

// EmitSafetyTimeout counts safety timer firings that actually ended loading.
func EmitSafetyTimeout(sink statsd.Sink) {
	if sink == nil {
		return
	}
	sink.Count(SafetyTimeout, 1, nil)
}

// EmitEnrichment records a profile enrichment attempt.
func EmitEnrichment(sink statsd.Sink, trigger string, in Outcome) {
	emitOutcome(sink, EnrichResult, EnrichDuration, map[string]string{"trigger": trigger}, in)
}

// EmitLogout records the remote sign-out leg of a logout.
func EmitLogout(sink statsd.Sink, in Outcome) {
	emitOutcome(sink, LogoutResult, LogoutDuration, nil, in)
}

// EmitAdminCheck records an admin gate decision.
func EmitAdminCheck(sink statsd.Sink, result string, err error) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": result}
	if class := obserrors.Classify(err); class != "" {
		tags["error_class"] = class
	}
	sink.Count(AdminCheck, 1, tags)
}

// EmitLogin records an explicit sign-in or sign-up attempt.
func EmitLogin(sink statsd.Sink, op string, in Outcome) {
	emitOutcome(sink, LoginAttempt, "", map[string]string{"op": op}, in)
}

func emitOutcome(sink statsd.Sink, counter, timer string, base map[string]string, in Outcome) {
	if sink == nil {
		return
	}
	tags := CloneTags(base)
	if tags == nil {
		tags = make(map[string]string, 2)
	}
	tags["result"] = in.Result
	if in.Err != nil && in.Result != ResultSuccess {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count(counter, 1, tags)
	if timer != "" && in.Duration > 0 {
		sink.Timing(timer, in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
