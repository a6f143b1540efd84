package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"gorm.io/gorm"
)

// TimeLog is an append-only punch event. Rows are never updated; attendance
// state is always re-derived from the log stream (single source of truth).
type TimeLog struct {
	ID         int       `gorm:"primary_key" json:"id"`
	EmployeeId int       `gorm:"not null;index:idx_tl_emp_time,priority:1" json:"employee_id"`
	LogTime    time.Time `gorm:"not null;index:idx_tl_emp_time,priority:2" json:"log_time"`
	Type       LogType   `gorm:"type:enum('checkin','checkout');not null" json:"type"`
	Source     LogSource `gorm:"type:enum('face','manual');not null;default:'face'" json:"source"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PunchDeniedError is a state-machine denial: the requested action is not
// legal from the employee's current attendance state. Carried to the handler
// with a machine-readable code plus the state it was denied from.
type PunchDeniedError struct {
	Code         string
	Message      string
	CurrentState AttendanceState
}

func (e *PunchDeniedError) Error() string { return e.Message }

var (
	ErrAlreadyCheckedIn = &PunchDeniedError{
		Code:         "ALREADY_CHECKED_IN",
		Message:      "already checked in; check out first",
		CurrentState: AttendanceStateCheckedIn,
	}
	ErrNoCheckinYet = &PunchDeniedError{
		Code:         "NO_CHECKIN_YET",
		Message:      "no checkin yet today; check in first",
		CurrentState: AttendanceStateNoLog,
	}
	ErrAlreadyCheckedOut = &PunchDeniedError{
		Code:         "ALREADY_CHECKED_OUT",
		Message:      "already checked out; check in again to start a new shift",
		CurrentState: AttendanceStateCheckedOut,
	}
)

// GetTimeLogsForDay returns the employee's logs for the local calendar day
// containing t, ordered log_time then id so same-instant rows keep insertion
// order.
func GetTimeLogsForDay(ctx context.Context, tx *gorm.DB, employeeId int, t time.Time, loc *time.Location) ([]*TimeLog, error) {
	start, end := utils.DayBounds(t, loc)
	var logs []*TimeLog
	err := tx.WithContext(ctx).
		Where("employee_id = ?", employeeId).
		Where("log_time >= ? AND log_time < ?", start, end).
		Order("log_time ASC, id ASC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AttendanceStateOf derives the day's state from the most recent entry.
// logs must already be in ascending log_time order.
func AttendanceStateOf(logs []*TimeLog) AttendanceState {
	if len(logs) == 0 {
		return AttendanceStateNoLog
	}
	switch logs[len(logs)-1].Type {
	case LogTypeCheckin:
		return AttendanceStateCheckedIn
	default:
		return AttendanceStateCheckedOut
	}
}

// ValidatePunch decides whether the requested action is legal from the given
// state. It only decides; the caller appends the log entry on approval.
func ValidatePunch(state AttendanceState, action LogType) error {
	switch action {
	case LogTypeCheckin:
		if state == AttendanceStateCheckedIn {
			return &PunchDeniedError{
				Code:         ErrAlreadyCheckedIn.Code,
				Message:      ErrAlreadyCheckedIn.Message,
				CurrentState: state,
			}
		}
		return nil
	case LogTypeCheckout:
		switch state {
		case AttendanceStateNoLog:
			return &PunchDeniedError{
				Code:         ErrNoCheckinYet.Code,
				Message:      ErrNoCheckinYet.Message,
				CurrentState: state,
			}
		case AttendanceStateCheckedOut:
			return &PunchDeniedError{
				Code:         ErrAlreadyCheckedOut.Code,
				Message:      ErrAlreadyCheckedOut.Message,
				CurrentState: state,
			}
		}
		return nil
	default:
		return fmt.Errorf("invalid log type %q", action)
	}
}

// AcquirePunchLock serializes check-then-act per (employee, local day) across
// instances using MySQL advisory locks. GET_LOCK is connection-scoped, so
// this must run on the same *gorm.DB transaction that reads the day's logs
// and writes the new one.
func AcquirePunchLock(tx *gorm.DB, employeeId int, day time.Time) error {
	lockName := punchLockName(employeeId, day)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 10)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire punch lock for employee_id=%d", employeeId)
	}
	return nil
}

func ReleasePunchLock(tx *gorm.DB, employeeId int, day time.Time) {
	lockName := punchLockName(employeeId, day)
	var ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&ok).Error
}

func punchLockName(employeeId int, day time.Time) string {
	return fmt.Sprintf("punch:%d:%s", employeeId, day.Format("2006-01-02"))
}

// CountTimeLogs is a small helper for ops and tests.
func CountTimeLogs(ctx context.Context, employeeId int) (int64, error) {
	var count int64
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&TimeLog{}).
		Where("employee_id = ?", employeeId).
		Count(&count).Error
	return count, err
}
