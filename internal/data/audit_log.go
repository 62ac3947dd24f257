package data

import (
	"context"
	"time"

	"FuseGate/internal/model"
	pkgerrors "FuseGate/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// BreakerTransition is the GORM model for the breaker_transitions table.
type BreakerTransition struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Dependency string    `gorm:"column:dependency;type:varchar(100);not null;index"`
	FromState  string    `gorm:"column:from_state;type:varchar(20);not null"`
	ToState    string    `gorm:"column:to_state;type:varchar(20);not null"`
	Reason     string    `gorm:"column:reason;type:varchar(255)"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (BreakerTransition) TableName() string {
	return "breaker_transitions"
}

// AdmissionRejection is the GORM model for the admission_rejections table.
type AdmissionRejection struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	Dependency string    `gorm:"column:dependency;type:varchar(100);not null;index"`
	Cause      string    `gorm:"column:cause;type:varchar(30);not null"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (AdmissionRejection) TableName() string {
	return "admission_rejections"
}

// AuditLogger persists breaker transitions and admission rejections
// through an async buffered channel so the request path never waits on
// MySQL. Implements biz.TransitionAuditor. With no database configured
// every record is dropped silently.
type AuditLogger struct {
	db     *gorm.DB
	events chan interface{}
	logger *log.Helper
}

// NewAuditLogger creates the audit logger and starts its writer.
func NewAuditLogger(db *gorm.DB, logger log.Logger) *AuditLogger {
	a := &AuditLogger{
		db:     db,
		events: make(chan interface{}, 1000),
		logger: log.NewHelper(logger),
	}

	if db != nil {
		go a.start()
	}

	return a
}

// start drains the event channel into MySQL. Deadlocks and transient
// connection failures get one retry; everything else is logged and
// dropped.
func (a *AuditLogger) start() {
	for event := range a.events {
		ctx := context.Background()
		err := a.db.WithContext(ctx).Create(event).Error
		if err != nil && pkgerrors.IsRetryableDBError(err) {
			err = a.db.WithContext(ctx).Create(event).Error
		}
		if err != nil {
			a.logger.Errorw("msg", "failed to write audit record",
				"record", event,
				"error", err)
		}
	}
}

// RecordTransition queues a breaker state transition. Non-blocking: a
// full channel drops the record with a warning.
func (a *AuditLogger) RecordTransition(t model.StateTransition) {
	if a.db == nil {
		return
	}

	a.enqueue(&BreakerTransition{
		Dependency: t.Dependency,
		FromState:  t.From.String(),
		ToState:    t.To.String(),
		Reason:     t.Reason,
		OccurredAt: t.At,
	}, t.Dependency)
}

// RecordRejection queues an admission rejection.
func (a *AuditLogger) RecordRejection(dependency string, cause model.RejectionCause) {
	if a.db == nil {
		return
	}

	a.enqueue(&AdmissionRejection{
		Dependency: dependency,
		Cause:      string(cause),
		OccurredAt: time.Now(),
	}, dependency)
}

func (a *AuditLogger) enqueue(event interface{}, dependency string) {
	select {
	case a.events <- event:
	default:
		a.logger.Warnw("msg", "audit channel full, dropping record",
			"dependency", dependency)
	}
}
