package models

import (
	"log"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Department{}, &Employee{},
		&TimeLog{}, &WorkHours{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
