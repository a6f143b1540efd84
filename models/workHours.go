package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WorkHours is the per-day aggregate derived from an employee's time logs.
//
// Grain: (employee_id, work_date). This table is derived data and can be
// rebuilt from time_logs at any time; writers upsert, never blind-insert.
type WorkHours struct {
	ID         int       `gorm:"primary_key" json:"id"`
	EmployeeId int       `gorm:"not null;uniqueIndex:idx_wh_emp_date,priority:1" json:"employee_id"`
	WorkDate   time.Time `gorm:"type:date;not null;uniqueIndex:idx_wh_emp_date,priority:2" json:"work_date"`

	FirstCheckin *time.Time `json:"first_checkin"`
	LastCheckout *time.Time `json:"last_checkout"`

	RegularHours decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"regular_hours"`
	OtHours      decimal.Decimal `gorm:"type:decimal(5,2);default:0" json:"ot_hours"`

	Status WorkHoursStatus `gorm:"type:enum('normal','late','absent','error');not null;default:'normal'" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WorkHoursCalculation is the pure result of reducing one day's logs.
// A nil calculation means the day is not yet computable (no checkin, or an
// open shift with no checkout) and any stale aggregate row must be removed.
type WorkHoursCalculation struct {
	FirstCheckin time.Time
	LastCheckout time.Time
	RegularHours decimal.Decimal
	OtHours      decimal.Decimal
	Status       WorkHoursStatus
}

// ComputeWorkHours reduces the day's logs to an aggregate.
//
// Duration is last checkout minus first checkin; intermediate punches do not
// split the day. Hours above the regular cap count as overtime. A first
// checkin after the late cutoff marks the day late. A negative duration
// (clock skew, manual backdating) clamps to zero hours with status error
// rather than storing a negative aggregate.
func ComputeWorkHours(logs []*TimeLog, regularCap float64, cutoffHour, cutoffMinute int, loc *time.Location) *WorkHoursCalculation {
	var firstCheckin, lastCheckout *time.Time
	for _, l := range logs {
		switch l.Type {
		case LogTypeCheckin:
			if firstCheckin == nil {
				t := l.LogTime
				firstCheckin = &t
			}
		case LogTypeCheckout:
			t := l.LogTime
			lastCheckout = &t
		}
	}
	if firstCheckin == nil || lastCheckout == nil {
		return nil
	}

	calc := &WorkHoursCalculation{
		FirstCheckin: *firstCheckin,
		LastCheckout: *lastCheckout,
		Status:       WorkHoursStatusNormal,
	}

	hours := lastCheckout.Sub(*firstCheckin).Hours()
	if hours < 0 {
		calc.RegularHours = decimal.Zero
		calc.OtHours = decimal.Zero
		calc.Status = WorkHoursStatusError
		return calc
	}

	regular := hours
	if regular > regularCap {
		regular = regularCap
	}
	calc.RegularHours = decimal.NewFromFloat(regular).Round(2)
	calc.OtHours = decimal.NewFromFloat(hours - regular).Round(2)

	local := firstCheckin.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), cutoffHour, cutoffMinute, 0, 0, loc)
	if local.After(cutoff) {
		calc.Status = WorkHoursStatusLate
	}
	return calc
}

// CalculateWorkHours fetches the day's logs on tx and reduces them with the
// configured policy.
func CalculateWorkHours(ctx context.Context, tx *gorm.DB, employeeId int, day time.Time) (*WorkHoursCalculation, error) {
	loc := config.CompanyLocation()
	logs, err := GetTimeLogsForDay(ctx, tx, employeeId, day, loc)
	if err != nil {
		return nil, err
	}
	cutoffHour, cutoffMinute := config.LateCutoff()
	return ComputeWorkHours(logs, config.RegularHoursCap(), cutoffHour, cutoffMinute, loc), nil
}

// UpsertWorkHours writes the aggregate for (employee, day), replacing any
// previous row for that grain.
func UpsertWorkHours(ctx context.Context, tx *gorm.DB, employeeId int, day time.Time, calc *WorkHoursCalculation) error {
	row := &WorkHours{
		EmployeeId:   employeeId,
		WorkDate:     workDateOf(day),
		FirstCheckin: &calc.FirstCheckin,
		LastCheckout: &calc.LastCheckout,
		RegularHours: calc.RegularHours,
		OtHours:      calc.OtHours,
		Status:       calc.Status,
	}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "employee_id"}, {Name: "work_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"first_checkin", "last_checkout", "regular_hours", "ot_hours", "status", "updated_at",
		}),
	}).Create(row).Error
}

// RecomputeWorkHours recalculates the aggregate for (employee, day) and
// either upserts the fresh row or, when the day is no longer computable,
// deletes the stale one. Used after a new checkin reopens a closed day and
// by the background reconciler.
func RecomputeWorkHours(ctx context.Context, tx *gorm.DB, employeeId int, day time.Time) error {
	calc, err := CalculateWorkHours(ctx, tx, employeeId, day)
	if err != nil {
		return err
	}
	if calc == nil {
		return deleteWorkHoursRow(ctx, tx, employeeId, day)
	}
	return UpsertWorkHours(ctx, tx, employeeId, day, calc)
}

func deleteWorkHoursRow(ctx context.Context, tx *gorm.DB, employeeId int, day time.Time) error {
	return tx.WithContext(ctx).
		Where("employee_id = ?", employeeId).
		Where("work_date = ?", workDateOf(day)).
		Delete(&WorkHours{}).Error
}

// GetWorkHours returns the stored aggregate for (employee, local day), or
// nil when none exists.
func GetWorkHours(ctx context.Context, employeeId int, day time.Time) (*WorkHours, error) {
	var row WorkHours
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("employee_id = ?", employeeId).
		Where("work_date = ?", workDateOf(day)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// workDateOf maps an instant to the DATE column value for its local
// calendar day: midnight UTC of the local date.
func workDateOf(day time.Time) time.Time {
	local := day.In(config.CompanyLocation())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
