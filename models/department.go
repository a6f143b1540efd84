package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"github.com/go-sql-driver/mysql"
)

type Department struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null;unique" json:"name" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateDepartment(ctx context.Context, name string) (*Department, error) {
	department := &Department{Name: name}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(department).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, fmt.Errorf("department %q already exists", name)
		}
		return nil, err
	}
	return department, nil
}

// GetDepartmentById returns nil (no error) when the employee has no
// department; punch responses tolerate that.
func GetDepartmentById(ctx context.Context, id int) (*Department, error) {
	if id == 0 {
		return nil, nil
	}
	var department Department
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&department).Error; err != nil {
		return nil, err
	}
	return &department, nil
}
