package audit

import "log/slog"

// Enabled controls whether audit log entries are emitted. Set to false to
// suppress all audit output (useful in tests that don't exercise auditing).
var Enabled = true

// Outcomes recorded for access decisions.
const (
	OutcomeGranted = "granted"
	OutcomeDenied  = "denied"
	OutcomeFailed  = "failed"
)

// Event is a structured audit entry for a command that touched the nonce
// store or the score ledger. Only non-zero fields are logged.
type Event struct {
	Client    string // Client key the nonce is bound to.
	Command   string // Command name, e.g. "add_score".
	Outcome   string // OutcomeGranted, OutcomeDenied or OutcomeFailed.
	Reason    string // Wire error identifier for denials and failures.
	IP        string // Remote address as seen by the server.
	RequestID string
	Username  string // Target username for score submissions.
	Score     *int64 // Submitted score.
	Extra     []any  // Additional slog attrs for one-off fields.
}

// Info emits the event as an INFO-level structured audit log entry.
func (e Event) Info(msg string) {
	if !Enabled {
		return
	}
	slog.Info(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// Warn emits the event as a WARN-level structured audit log entry.
func (e Event) Warn(msg string) {
	if !Enabled {
		return
	}
	slog.Warn(msg, slog.Group("audit", e.attrs()...)) //nolint:gosec // structured logger safely escapes taint
}

// Log emits at WARN for denials and failures, INFO otherwise.
func (e Event) Log(msg string) {
	if e.Outcome == OutcomeDenied || e.Outcome == OutcomeFailed {
		e.Warn(msg)
		return
	}
	e.Info(msg)
}

// attrs builds the slog attribute list, skipping zero-value fields.
func (e Event) attrs() []any {
	var attrs []any
	if e.Client != "" {
		attrs = append(attrs, slog.String("client", e.Client))
	}
	if e.Command != "" {
		attrs = append(attrs, slog.String("command", e.Command))
	}
	if e.Outcome != "" {
		attrs = append(attrs, slog.String("outcome", e.Outcome))
	}
	if e.Reason != "" {
		attrs = append(attrs, slog.String("reason", e.Reason))
	}
	if e.IP != "" {
		attrs = append(attrs, slog.String("ip_address", e.IP))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.Username != "" {
		attrs = append(attrs, slog.String("username", e.Username))
	}
	if e.Score != nil {
		attrs = append(attrs, slog.Int64("score", *e.Score))
	}
	attrs = append(attrs, e.Extra...)
	return attrs
}
