package biz

import (
	"FuseGate/internal/model"
)

// TransitionAuditor persists breaker transitions and admission rejections
// for offline analysis. Implementations must be non-blocking and
// best-effort: losing an audit record must never affect a call.
// Implementation is in the data layer (data.AuditLogger).
type TransitionAuditor interface {
	RecordTransition(t model.StateTransition)
	RecordRejection(dependency string, cause model.RejectionCause)
}

// NopAuditor discards all audit records. Used in tests and when the
// audit database is not configured.
type NopAuditor struct{}

func (NopAuditor) RecordTransition(model.StateTransition)       {}
func (NopAuditor) RecordRejection(string, model.RejectionCause) {}
