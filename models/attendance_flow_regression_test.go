package models_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"github.com/shopspring/decimal"
)

// End-to-end punch flow against real MySQL and Redis: enroll, check in,
// deny the duplicate checkin, check out, verify the upserted aggregate,
// then reject a stranger's probe.
func TestFacePunchFlowEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "attendance_test")
	t.Setenv("COMPANY_TIMEZONE", "UTC")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := config.GetRedisDB().Ping(config.GetRedisContext()).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	models.MigrateTable()

	dept, err := models.CreateDepartment(ctx, "Engineering")
	if err != nil {
		t.Fatalf("CreateDepartment: %v", err)
	}
	employee, err := models.CreateEmployee(ctx, &models.NewEmployee{
		Name:         "Aung Aung",
		Email:        "aung@attendance.test",
		DepartmentId: dept.ID,
	})
	if err != nil {
		t.Fatalf("CreateEmployee: %v", err)
	}

	enrolled := fillVector(0.25)
	rawDescriptor, _ := json.Marshal(enrolled)
	if _, err := models.SetEmployeeFaceProfile(ctx, employee.ID, rawDescriptor); err != nil {
		t.Fatalf("SetEmployeeFaceProfile: %v", err)
	}

	// Probe slightly off the enrolled vector, well under the threshold.
	probe := fillVector(0.25)
	probe[0] += 0.01
	probeRaw, _ := json.Marshal(probe)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	checkinAt := day.Add(8 * time.Hour)

	result, err := models.RecordFacePunch(ctx, &models.PunchInput{
		Descriptor: probeRaw,
		Action:     models.LogTypeCheckin,
		LogTime:    checkinAt,
	})
	if err != nil {
		t.Fatalf("checkin punch: %v", err)
	}
	if result.Employee.ID != employee.ID {
		t.Fatalf("matched employee %d, want %d", result.Employee.ID, employee.ID)
	}
	if result.Department == nil || result.Department.ID != dept.ID {
		t.Fatalf("punch response missing department: %+v", result.Department)
	}
	if result.Distance >= config.FaceMatchThreshold() {
		t.Fatalf("distance %f not under threshold", result.Distance)
	}

	// Duplicate checkin must be denied without writing a second log.
	_, err = models.RecordFacePunch(ctx, &models.PunchInput{
		Descriptor: probeRaw,
		Action:     models.LogTypeCheckin,
		LogTime:    checkinAt.Add(5 * time.Minute),
	})
	var denied *models.PunchDeniedError
	if !errors.As(err, &denied) || denied.Code != "ALREADY_CHECKED_IN" {
		t.Fatalf("duplicate checkin: got %v, want ALREADY_CHECKED_IN denial", err)
	}
	count, err := models.CountTimeLogs(ctx, employee.ID)
	if err != nil {
		t.Fatalf("CountTimeLogs: %v", err)
	}
	if count != 1 {
		t.Fatalf("denied punch wrote a log: count %d, want 1", count)
	}

	// No aggregate yet while the shift is open.
	wh, err := models.GetWorkHours(ctx, employee.ID, day)
	if err != nil {
		t.Fatalf("GetWorkHours before checkout: %v", err)
	}
	if wh != nil {
		t.Fatalf("open shift has an aggregate row: %+v", wh)
	}

	checkoutAt := day.Add(17 * time.Hour)
	if _, err := models.RecordFacePunch(ctx, &models.PunchInput{
		Descriptor: probeRaw,
		Action:     models.LogTypeCheckout,
		LogTime:    checkoutAt,
	}); err != nil {
		t.Fatalf("checkout punch: %v", err)
	}

	wh, err = models.GetWorkHours(ctx, employee.ID, day)
	if err != nil {
		t.Fatalf("GetWorkHours after checkout: %v", err)
	}
	if wh == nil {
		t.Fatalf("checkout did not upsert the aggregate")
	}
	if !wh.RegularHours.Equal(decimal.NewFromInt(8)) || !wh.OtHours.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("aggregate hours: regular %s ot %s, want 8 and 1", wh.RegularHours, wh.OtHours)
	}
	if wh.Status != models.WorkHoursStatusNormal {
		t.Fatalf("aggregate status: got %q, want %q", wh.Status, models.WorkHoursStatusNormal)
	}

	// A face far from every enrollment is rejected without leaking identity.
	// An enrolled-but-deactivated employee with that exact face must not be
	// considered either.
	stranger := fillVector(0.9)
	strangerRaw, _ := json.Marshal(stranger)
	decoy, err := models.CreateEmployee(ctx, &models.NewEmployee{Name: "Former Staff"})
	if err != nil {
		t.Fatalf("CreateEmployee decoy: %v", err)
	}
	if _, err := models.SetEmployeeFaceProfile(ctx, decoy.ID, strangerRaw); err != nil {
		t.Fatalf("SetEmployeeFaceProfile decoy: %v", err)
	}
	db := config.GetDB()
	if err := db.Model(&models.Employee{}).Where("id = ?", decoy.ID).
		Update("is_active", utils.NewFalse()).Error; err != nil {
		t.Fatalf("deactivate decoy: %v", err)
	}
	_, err = models.RecordFacePunch(ctx, &models.PunchInput{
		Descriptor: strangerRaw,
		Action:     models.LogTypeCheckin,
		LogTime:    checkoutAt.Add(time.Hour),
	})
	var noMatch *models.NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("stranger probe: got %v, want NoMatchError", err)
	}
	if noMatch.Distance < config.FaceMatchThreshold() {
		t.Fatalf("stranger rejection carries distance %f under threshold", noMatch.Distance)
	}

	// Concurrent checkins for one employee on one day serialize on the punch
	// lock, which is held until the winning punch has committed. Exactly one
	// may succeed; every loser must see the committed entry and be denied.
	racer, err := models.CreateEmployee(ctx, &models.NewEmployee{
		Name:         "Racer",
		DepartmentId: dept.ID,
	})
	if err != nil {
		t.Fatalf("CreateEmployee racer: %v", err)
	}
	raceDay := day.AddDate(0, 0, 1)
	const racers = 8
	raceErrs := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			_, err := models.RecordManualPunch(ctx, racer.ID, models.LogTypeCheckin,
				raceDay.Add(9*time.Hour+time.Duration(offset)*time.Millisecond))
			raceErrs <- err
		}(i)
	}
	wg.Wait()
	close(raceErrs)
	var accepted, rejected int
	for err := range raceErrs {
		if err == nil {
			accepted++
			continue
		}
		var raceDenied *models.PunchDeniedError
		if !errors.As(err, &raceDenied) || raceDenied.Code != "ALREADY_CHECKED_IN" {
			t.Fatalf("concurrent checkin: got %v, want ALREADY_CHECKED_IN denial", err)
		}
		rejected++
	}
	if accepted != 1 || rejected != racers-1 {
		t.Fatalf("concurrent checkins: %d accepted %d rejected, want 1 and %d", accepted, rejected, racers-1)
	}
	raceCount, err := models.CountTimeLogs(ctx, racer.ID)
	if err != nil {
		t.Fatalf("CountTimeLogs racer: %v", err)
	}
	if raceCount != 1 {
		t.Fatalf("concurrent checkins wrote %d logs, want 1", raceCount)
	}
}

func fillVector(v float64) []float64 {
	vec := make([]float64, 128)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("attendance-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("attendance-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=attendance_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
