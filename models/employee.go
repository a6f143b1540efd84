package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/faces"
	"gorm.io/gorm"
)

type Employee struct {
	ID           int    `gorm:"primary_key" json:"id"`
	Name         string `gorm:"size:100;not null" json:"name" binding:"required"`
	Email        string `gorm:"size:100" json:"email"`
	DepartmentId int    `gorm:"index" json:"department_id"`
	IsActive     *bool  `gorm:"not null;default:true" json:"is_active"`

	// FaceDescriptor is the canonical JSON-encoded embedding vector, or NULL
	// when the employee is not enrolled. Re-enrollment overwrites, never
	// appends.
	FaceDescriptor *string `gorm:"type:text" json:"-"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (e *Employee) IsEnrolled() bool {
	return e.FaceDescriptor != nil && *e.FaceDescriptor != ""
}

type NewEmployee struct {
	Name         string `json:"name" binding:"required"`
	Email        string `json:"email"`
	DepartmentId int    `json:"department_id"`
}

func CreateEmployee(ctx context.Context, input *NewEmployee) (*Employee, error) {
	if input.DepartmentId != 0 {
		if _, err := GetDepartmentById(ctx, input.DepartmentId); err != nil {
			return nil, err
		}
	}
	employee := &Employee{
		Name:         input.Name,
		Email:        input.Email,
		DepartmentId: input.DepartmentId,
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(employee).Error; err != nil {
		return nil, err
	}
	return employee, nil
}

func GetEmployeeById(ctx context.Context, id int) (*Employee, error) {
	var employee Employee
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&employee).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("employee %d not found", id)
		}
		return nil, err
	}
	return &employee, nil
}

// ListEnrolledEmployees returns the active employees with a stored
// descriptor, ordered by id so the matcher's tie-break is deterministic.
// Fetched fresh per request: enrollment changes are rare relative to
// recognition attempts, so no cross-request caching.
func ListEnrolledEmployees(ctx context.Context) ([]*Employee, error) {
	var employees []*Employee
	db := config.GetDB()
	err := db.WithContext(ctx).
		Where("face_descriptor IS NOT NULL AND face_descriptor <> ''").
		Where("is_active = ?", true).
		Order("id ASC").
		Find(&employees).Error
	if err != nil {
		return nil, err
	}
	return employees, nil
}

// SetEmployeeFaceProfile decodes and validates a descriptor from either wire
// shape and persists it in canonical JSON form. Enroll and re-enroll are the
// same operation; the previous descriptor is overwritten.
func SetEmployeeFaceProfile(ctx context.Context, employeeId int, rawDescriptor json.RawMessage) (*Employee, error) {
	employee, err := GetEmployeeById(ctx, employeeId)
	if err != nil {
		return nil, err
	}

	vec, err := faces.DecodeRaw(rawDescriptor)
	if err != nil {
		return nil, err
	}
	if len(vec) != faces.DescriptorDim {
		return nil, fmt.Errorf("%w: expected %d elements, got %d",
			faces.ErrInvalidDescriptorFormat, faces.DescriptorDim, len(vec))
	}

	encoded := faces.Encode(vec)
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(employee).Update("face_descriptor", encoded).Error; err != nil {
		return nil, err
	}
	employee.FaceDescriptor = &encoded
	return employee, nil
}

// ClearEmployeeFaceProfile nulls the stored descriptor (un-enrolls).
func ClearEmployeeFaceProfile(ctx context.Context, employeeId int) error {
	employee, err := GetEmployeeById(ctx, employeeId)
	if err != nil {
		return err
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(employee).Update("face_descriptor", nil).Error
}

// DeleteEmployee removes the employee and everything hanging off it: the
// descriptor goes with the row, and dependent time logs and work-hours rows
// are deleted in the same transaction.
func DeleteEmployee(ctx context.Context, employeeId int) error {
	employee, err := GetEmployeeById(ctx, employeeId)
	if err != nil {
		return err
	}
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("employee_id = ?", employeeId).Delete(&TimeLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("employee_id = ?", employeeId).Delete(&WorkHours{}).Error; err != nil {
			return err
		}
		return tx.Delete(employee).Error
	})
}
