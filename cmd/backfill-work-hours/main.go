// backfill-work-hours recomputes the daily work-hours aggregates from the
// time_logs table, for one employee or all, over a date range. Safe to rerun;
// recomputation is idempotent.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/backfill-work-hours -from 2026-01-01 -to 2026-01-31
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"gorm.io/gorm"
)

func main() {
	employeeID := flag.Int("employee-id", 0, "Optional: backfill only one employee. If 0, backfills all employees with logs in range.")
	from := flag.String("from", "", "Start date (YYYY-MM-DD, company timezone). Required.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD). Defaults to today in company timezone.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	loc := config.CompanyLocation()

	start, err := parseDate(*from, loc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(1)
	}
	end, err := utils.ConvertToDate(time.Now().UTC(), config.CompanyTimezone())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve today: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(*to) != "" {
		end, err = parseDate(*to, loc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
			os.Exit(1)
		}
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "-to is before -from")
		os.Exit(1)
	}

	var employeeIDs []int
	q := db.WithContext(ctx).Model(&models.TimeLog{}).Distinct("employee_id")
	if *employeeID != 0 {
		q = q.Where("employee_id = ?", *employeeID)
	}
	if err := q.Pluck("employee_id", &employeeIDs).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list employees with logs: %v\n", err)
		os.Exit(1)
	}
	if len(employeeIDs) == 0 {
		fmt.Fprintln(os.Stderr, "no employees with time logs found")
		return
	}

	var days, failures int
	for _, id := range employeeIDs {
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			d := day
			err := db.Transaction(func(tx *gorm.DB) error {
				return models.RecomputeWorkHours(ctx, tx, id, d)
			})
			if err != nil {
				failures++
				fmt.Fprintf(os.Stderr, "employee %d %s: %v\n", id, d.Format("2006-01-02"), err)
				continue
			}
			days++
		}
	}
	fmt.Printf("backfilled %d employee-days (%d failures)\n", days, failures)
	if failures > 0 {
		os.Exit(1)
	}
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(s), loc)
}
