package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"type:enum('A', 'M', 'S');default:'S'" json:"role"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Password string   `json:"password" binding:"required"`
	Role     UserRole `json:"role"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	role := input.Role
	if role == "" {
		role = UserRoleStaff
	}
	active := true
	user := User{
		Username: strings.TrimSpace(input.Username),
		Name:     input.Name,
		Password: string(hashed),
		Role:     role,
		IsActive: &active,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, errors.New("duplicate username")
		}
		return nil, err
	}
	return &user, nil
}

type LoginResult struct {
	Token string `json:"token"`
	Jwt   string `json:"jwt"`
	User  *User  `json:"user"`
}

// Login verifies credentials and issues an opaque session token (stored in
// redis with TTL) plus a JWT for clients that validate offline.
func Login(ctx context.Context, username string, password string) (*LoginResult, error) {
	var user User
	db := config.GetDB()
	err := db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid username or password")
		}
		return nil, err
	}
	if user.IsActive != nil && !*user.IsActive {
		return nil, errors.New("account disabled")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, errors.New("invalid username or password")
	}

	token := uuid.NewString()
	if err := utils.StoreSessionToken(token, user.Username); err != nil {
		return nil, err
	}
	jwtToken, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Jwt: jwtToken, User: &user}, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}
