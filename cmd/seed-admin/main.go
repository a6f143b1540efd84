// seed-admin creates or updates the console admin user (username: attendanceAdmin).
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"gorm.io/gorm"
)

const (
	adminUsername = "attendanceAdmin"
	adminPassword = "@ttendanceAdmin"
	adminName     = "Attendance Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	hashed, err := utils.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	hashedStr := string(hashed)

	var existing models.User
	err = db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			fmt.Fprintf(os.Stderr, "failed to lookup user: %v\n", err)
			os.Exit(1)
		}
		u := models.User{
			Username: adminUsername,
			Name:     adminName,
			Password: hashedStr,
			IsActive: utils.NewTrue(),
			Role:     models.UserRoleAdmin,
		}
		if err := db.WithContext(ctx).Create(&u).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin user: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin user: username=%q (role=Admin)\n", adminUsername)
		return
	}

	// Ensure password and admin role on reruns.
	if err := db.WithContext(ctx).Model(&models.User{}).Where("username = ?", adminUsername).Updates(map[string]any{
		"password":  hashedStr,
		"name":      adminName,
		"is_active": utils.NewTrue(),
		"role":      models.UserRoleAdmin,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin user: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin user: username=%q (role=Admin)\n", adminUsername)
}
