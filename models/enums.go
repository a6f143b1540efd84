package models

// LogType is the punch direction of a time log entry.
type LogType string

const (
	LogTypeCheckin  LogType = "checkin"
	LogTypeCheckout LogType = "checkout"
)

func (t LogType) IsValid() bool {
	return t == LogTypeCheckin || t == LogTypeCheckout
}

// LogSource records how a time log entry was created.
type LogSource string

const (
	LogSourceFace   LogSource = "face"
	LogSourceManual LogSource = "manual"
)

// AttendanceState is the per-employee per-day state derived from the most
// recent time log of that day.
type AttendanceState string

const (
	AttendanceStateNoLog      AttendanceState = "NoLog"
	AttendanceStateCheckedIn  AttendanceState = "CheckedIn"
	AttendanceStateCheckedOut AttendanceState = "CheckedOut"
)

// WorkHoursStatus classifies a derived daily record.
type WorkHoursStatus string

const (
	WorkHoursStatusNormal WorkHoursStatus = "normal"
	WorkHoursStatusLate   WorkHoursStatus = "late"
	WorkHoursStatusAbsent WorkHoursStatus = "absent"
	WorkHoursStatusError  WorkHoursStatus = "error"
)

// UserRole for the slim auth users table.
type UserRole string

const (
	UserRoleAdmin   UserRole = "A"
	UserRoleManager UserRole = "M"
	UserRoleStaff   UserRole = "S"
)
