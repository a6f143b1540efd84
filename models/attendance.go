package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/faces"
	"gorm.io/gorm"
)

// ErrNoEnrolledFaces means recognition was attempted against an empty
// roster. Callers report it as a setup problem, not a failed match.
var ErrNoEnrolledFaces = errors.New("no enrolled faces to match against")

// NoMatchError means every enrolled face was farther than the threshold.
// Distance carries the closest miss for operator diagnostics; the response
// never reveals whose face that was.
type NoMatchError struct {
	Distance float64
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no enrolled face within threshold (closest %.4f)", e.Distance)
}

// PunchInput carries one recognition punch request into the orchestrator.
type PunchInput struct {
	Descriptor json.RawMessage `json:"faceDescriptor"`
	Action     LogType         `json:"action"`
	LogTime    time.Time       `json:"-"`
}

// PunchResult is the success payload of an accepted punch.
type PunchResult struct {
	Employee   *Employee   `json:"employee"`
	Department *Department `json:"department"`
	Distance   float64     `json:"distance"`
	TimeLog    *TimeLog    `json:"timeLog"`
	Message    string      `json:"message"`
}

// ActiveMatcher returns the configured face matcher. FACE_MATCHER=hnsw
// selects the graph index; anything else gets the linear scan.
func ActiveMatcher() faces.Matcher {
	threshold := config.FaceMatchThreshold()
	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("FACE_MATCHER")), "hnsw") {
		return faces.NewHNSWMatcher(threshold, logger)
	}
	return faces.NewLinearMatcher(threshold, logger)
}

// RecordFacePunch runs the whole punch pipeline: decode the probe, match it
// against the enrolled roster, then validate and append the log entry under
// a per-(employee, day) advisory lock so concurrent punches serialize.
//
// Aggregation of work hours is best effort. A checkout triggers the day's
// aggregate upsert and a checkin after a checkout invalidates the now-stale
// row, but a failure in either only logs; the accepted punch always stands.
func RecordFacePunch(ctx context.Context, input *PunchInput) (*PunchResult, error) {
	probe, err := faces.DecodeRaw(input.Descriptor)
	if err != nil {
		return nil, err
	}
	if len(probe) != faces.DescriptorDim {
		return nil, fmt.Errorf("%w: expected %d values, got %d",
			faces.ErrInvalidDescriptorFormat, faces.DescriptorDim, len(probe))
	}

	// Roster is read fresh per request so a new enrollment is matchable on
	// the very next punch.
	enrolled, err := ListEnrolledEmployees(ctx)
	if err != nil {
		return nil, err
	}
	if len(enrolled) == 0 {
		return nil, ErrNoEnrolledFaces
	}

	candidates := make([]faces.Candidate, 0, len(enrolled))
	byId := make(map[int]*Employee, len(enrolled))
	for _, emp := range enrolled {
		candidates = append(candidates, faces.Candidate{
			EmployeeId: emp.ID,
			Descriptor: *emp.FaceDescriptor,
		})
		byId[emp.ID] = emp
	}

	match := ActiveMatcher().FindBestMatch(probe, candidates)
	if !match.Matched {
		return nil, &NoMatchError{Distance: match.Distance}
	}
	employee := byId[match.EmployeeId]

	result, err := appendPunch(ctx, employee, input.Action, input.LogTime, LogSourceFace)
	if err != nil {
		return nil, err
	}
	result.Distance = match.Distance
	return result, nil
}

// RecordManualPunch appends a punch for a known employee without face
// matching. The employee does not need an enrolled face, only an active
// record; the same state machine and locking apply.
func RecordManualPunch(ctx context.Context, employeeId int, action LogType, logTime time.Time) (*PunchResult, error) {
	employee, err := GetEmployeeById(ctx, employeeId)
	if err != nil {
		return nil, err
	}
	return appendPunch(ctx, employee, action, logTime, LogSourceManual)
}

func appendPunch(ctx context.Context, employee *Employee, action LogType, logTime time.Time, source LogSource) (*PunchResult, error) {
	if !action.IsValid() {
		return nil, fmt.Errorf("invalid log type %q", action)
	}
	if logTime.IsZero() {
		logTime = time.Now()
	}
	loc := config.CompanyLocation()
	db := config.GetDB()

	var entry *TimeLog
	// The advisory lock lives on one pinned connection and is released only
	// after the transaction on that same connection has committed, so a
	// concurrent punch that acquires the lock next always sees this entry.
	err := db.Connection(func(conn *gorm.DB) error {
		if err := AcquirePunchLock(conn, employee.ID, logTime.In(loc)); err != nil {
			return err
		}
		defer ReleasePunchLock(conn, employee.ID, logTime.In(loc))

		txErr := conn.Transaction(func(tx *gorm.DB) error {
			logs, err := GetTimeLogsForDay(ctx, tx, employee.ID, logTime, loc)
			if err != nil {
				return err
			}
			state := AttendanceStateOf(logs)
			if err := ValidatePunch(state, action); err != nil {
				return err
			}

			entry = &TimeLog{
				EmployeeId: employee.ID,
				LogTime:    logTime,
				Type:       action,
				Source:     source,
			}
			return tx.WithContext(ctx).Create(entry).Error
		})
		if txErr != nil {
			return txErr
		}

		// After commit but still inside the lock: the aggregate write sees
		// the committed entry and cannot race a concurrent punch on the same
		// day, and a failure here cannot undo the accepted punch.
		refreshWorkHours(ctx, conn, employee.ID, logTime)
		return nil
	})
	if err != nil {
		return nil, err
	}

	department, err := GetDepartmentById(ctx, employee.DepartmentId)
	if err != nil {
		config.LogError(config.GetLogger(), "models", "appendPunch",
			"loading department for punch response", employee.ID, err)
		department = nil
	}

	return &PunchResult{
		Employee:   employee,
		Department: department,
		TimeLog:    entry,
		Message:    punchMessage(employee.Name, action),
	}, nil
}

// refreshWorkHours keeps the derived aggregate in step with the log that was
// just appended. A checkout closes the day so the row is (re)written; a
// checkin recomputes too, which deletes any row a reopened day made stale.
// Runs outside the punch transaction; errors are logged and swallowed, and
// the reconciler repairs any day this misses.
func refreshWorkHours(ctx context.Context, db *gorm.DB, employeeId int, logTime time.Time) {
	if err := RecomputeWorkHours(ctx, db, employeeId, logTime); err != nil {
		config.LogError(config.GetLogger(), "models", "refreshWorkHours",
			"updating work hours aggregate after punch", employeeId, err)
	}
}

func punchMessage(name string, action LogType) string {
	if action == LogTypeCheckin {
		return fmt.Sprintf("%s checked in", name)
	}
	return fmt.Sprintf("%s checked out", name)
}
