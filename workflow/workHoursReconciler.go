package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WorkHoursReconciler is the repair loop behind the punch-time best-effort
// aggregation: it periodically recomputes the aggregate for every
// (employee, day) with recently written logs, so a day whose inline update
// failed converges anyway. Recomputation is idempotent, so overlap with
// inline updates or another instance is harmless.
type WorkHoursReconciler struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	ReconcilerID string

	PollInterval time.Duration
	Lookback     time.Duration
}

func NewWorkHoursReconciler(db *gorm.DB, logger *logrus.Logger) *WorkHoursReconciler {
	return &WorkHoursReconciler{
		DB:           db,
		Logger:       logger,
		ReconcilerID: uuid.NewString(),
		PollInterval: 5 * time.Minute,
		Lookback:     30 * time.Minute,
	}
}

func (r *WorkHoursReconciler) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.reconcileOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.PollInterval):
		}
	}
}

type punchedDay struct {
	EmployeeId int
	LogTime    time.Time
}

func (r *WorkHoursReconciler) reconcileOnce(ctx context.Context) {
	db := r.DB
	if db == nil {
		return
	}
	since := time.Now().Add(-r.Lookback)

	// One representative log per (employee, day); the reducer refetches the
	// full day anyway.
	var days []punchedDay
	err := db.WithContext(ctx).
		Model(&models.TimeLog{}).
		Select("employee_id, MIN(log_time) AS log_time").
		Where("created_at >= ?", since).
		Group("employee_id, DATE(log_time)").
		Scan(&days).Error
	if err != nil {
		config.LogError(r.Logger, "workflow", "reconcileOnce",
			"listing days with recent punches", r.ReconcilerID, err)
		return
	}

	for _, d := range days {
		err := db.Transaction(func(tx *gorm.DB) error {
			return models.RecomputeWorkHours(ctx, tx, d.EmployeeId, d.LogTime)
		})
		if err != nil {
			config.LogError(r.Logger, "workflow", "reconcileOnce",
				"recomputing work hours", d, err)
		}
	}
	if len(days) > 0 {
		r.Logger.WithFields(logrus.Fields{
			"module":        "workflow",
			"reconciler_id": r.ReconcilerID,
			"days":          len(days),
		}).Debug("work hours reconcile pass complete")
	}
}
