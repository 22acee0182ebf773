package tracing

// Span attribute keys.
const (
	AttrCommandID     = "command.id"
	AttrCommandType   = "command.type"
	AttrCommandSource = "command.source"

	AttrSessionID       = "session.id"
	AttrSessionStatus   = "session.status"
	AttrPlannedMinutes  = "session.planned_minutes"
	AttrBlockedAppCount = "session.blocked_apps"

	AttrEnforcementOp = "enforcement.op"
	AttrAppID         = "app.id"
)

// Span name prefixes.
const (
	SpanPrefixCommand     = "command.process."
	SpanPrefixEnforcement = "enforcement."
)

// Event names for span events.
const (
	EventRetry           = "enforcement.retry"
	EventSessionCreated  = "session.created"
	EventSessionFinished = "session.finished"
)
