package models_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"github.com/shopspring/decimal"
)

func computeDay(t *testing.T, logs []*models.TimeLog) *models.WorkHoursCalculation {
	t.Helper()
	return models.ComputeWorkHours(logs, 8.0, 8, 30, time.UTC)
}

func TestComputeWorkHoursOpenDayIsNotComputable(t *testing.T) {
	if calc := computeDay(t, nil); calc != nil {
		t.Fatalf("no logs: got %+v, want nil", calc)
	}
	checkinOnly := []*models.TimeLog{logAt(8, 0, models.LogTypeCheckin)}
	if calc := computeDay(t, checkinOnly); calc != nil {
		t.Fatalf("checkin-only day: got %+v, want nil", calc)
	}
}

func TestComputeWorkHoursSplitsRegularAndOvertime(t *testing.T) {
	logs := []*models.TimeLog{
		logAt(8, 0, models.LogTypeCheckin),
		logAt(17, 0, models.LogTypeCheckout),
	}
	calc := computeDay(t, logs)
	if calc == nil {
		t.Fatalf("expected a calculation for a closed day")
	}
	if !calc.RegularHours.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("regular hours: got %s, want 8", calc.RegularHours)
	}
	if !calc.OtHours.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("ot hours: got %s, want 1", calc.OtHours)
	}
	if calc.Status != models.WorkHoursStatusNormal {
		t.Fatalf("status: got %q, want %q", calc.Status, models.WorkHoursStatusNormal)
	}
	if !calc.FirstCheckin.Equal(logs[0].LogTime) || !calc.LastCheckout.Equal(logs[1].LogTime) {
		t.Fatalf("checkin/checkout bounds not carried through: %+v", calc)
	}
}

func TestComputeWorkHoursShortDayHasNoOvertime(t *testing.T) {
	logs := []*models.TimeLog{
		logAt(8, 0, models.LogTypeCheckin),
		logAt(12, 30, models.LogTypeCheckout),
	}
	calc := computeDay(t, logs)
	if calc == nil {
		t.Fatalf("expected a calculation for a closed day")
	}
	if !calc.RegularHours.Equal(decimal.NewFromFloat(4.5)) {
		t.Fatalf("regular hours: got %s, want 4.5", calc.RegularHours)
	}
	if !calc.OtHours.Equal(decimal.Zero) {
		t.Fatalf("ot hours: got %s, want 0", calc.OtHours)
	}
}

func TestComputeWorkHoursLateCutoff(t *testing.T) {
	late := []*models.TimeLog{
		logAt(9, 0, models.LogTypeCheckin),
		logAt(17, 0, models.LogTypeCheckout),
	}
	calc := computeDay(t, late)
	if calc == nil || calc.Status != models.WorkHoursStatusLate {
		t.Fatalf("09:00 checkin: got %+v, want status %q", calc, models.WorkHoursStatusLate)
	}

	// Exactly on the cutoff is not late; only strictly after.
	onTime := []*models.TimeLog{
		logAt(8, 30, models.LogTypeCheckin),
		logAt(17, 0, models.LogTypeCheckout),
	}
	calc = computeDay(t, onTime)
	if calc == nil || calc.Status != models.WorkHoursStatusNormal {
		t.Fatalf("08:30 checkin: got %+v, want status %q", calc, models.WorkHoursStatusNormal)
	}
}

func TestComputeWorkHoursNegativeDurationClampsToError(t *testing.T) {
	// Manual backdating can leave the only checkout before the first checkin.
	logs := []*models.TimeLog{
		logAt(17, 0, models.LogTypeCheckin),
		logAt(9, 0, models.LogTypeCheckout),
	}
	calc := computeDay(t, logs)
	if calc == nil {
		t.Fatalf("expected a calculation for a closed day")
	}
	if !calc.RegularHours.Equal(decimal.Zero) || !calc.OtHours.Equal(decimal.Zero) {
		t.Fatalf("inverted day: got regular %s ot %s, want both 0", calc.RegularHours, calc.OtHours)
	}
	if calc.Status != models.WorkHoursStatusError {
		t.Fatalf("inverted day status: got %q, want %q", calc.Status, models.WorkHoursStatusError)
	}
}

func TestComputeWorkHoursUsesLocalTimeForCutoff(t *testing.T) {
	loc := time.FixedZone("UTC+6:30", 6*3600+1800)
	// 01:45 UTC is 08:15 local: on time.
	logs := []*models.TimeLog{
		{EmployeeId: 1, LogTime: time.Date(2026, 3, 2, 1, 45, 0, 0, time.UTC), Type: models.LogTypeCheckin},
		{EmployeeId: 1, LogTime: time.Date(2026, 3, 2, 10, 45, 0, 0, time.UTC), Type: models.LogTypeCheckout},
	}
	calc := models.ComputeWorkHours(logs, 8.0, 8, 30, loc)
	if calc == nil || calc.Status != models.WorkHoursStatusNormal {
		t.Fatalf("08:15 local checkin: got %+v, want status %q", calc, models.WorkHoursStatusNormal)
	}

	// 02:15 UTC is 08:45 local: late.
	logs[0].LogTime = time.Date(2026, 3, 2, 2, 15, 0, 0, time.UTC)
	calc = models.ComputeWorkHours(logs, 8.0, 8, 30, loc)
	if calc == nil || calc.Status != models.WorkHoursStatusLate {
		t.Fatalf("08:45 local checkin: got %+v, want status %q", calc, models.WorkHoursStatusLate)
	}
}
