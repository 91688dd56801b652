package metrics

import (
	"maps"
	"time"

	domainauth "github.com/target/portal-session/internal/domain/auth"
	"github.com/target/portal-session/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Operation names emitted under the "auth." namespace.
const (
	OpLogin          = "login"
	OpLogout         = "logout"
	OpGuestProvision = "guest_provision"
	OpRestore        = "restore"
)

// AuthMetric captures one session-core operation for metric emission.
type AuthMetric struct {
	Operation string
	Method    string // login method, empty for other operations
	Result    string
	Duration  time.Duration
	Err       error
}

// EmitAuth emits a counter (and a timing when Duration is set) for an auth operation.
// Failed operations are tagged with the auth error kind.
func EmitAuth(sink statsd.Sink, in AuthMetric) {
	if sink == nil || in.Operation == "" {
		return
	}

	tags := map[string]string{"result": in.Result}
	if in.Method != "" {
		tags["method"] = in.Method
	}
	if in.Err != nil && in.Result == ResultError {
		tags["error_kind"] = string(domainauth.Classify(in.Err).Kind)
	}

	sink.Count("auth."+in.Operation, 1, tags)
	if in.Duration > 0 {
		sink.Timing("auth."+in.Operation+".duration", in.Duration, maps.Clone(tags))
	}
}

// EmitAuthenticated records whether the controller currently holds an authenticated session.
func EmitAuthenticated(sink statsd.Sink, authenticated bool, role domainauth.Role) {
	if sink == nil {
		return
	}
	v := 0.0
	if authenticated {
		v = 1
	}
	sink.Gauge("auth.authenticated", v, map[string]string{"role": string(role)})
}
