package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
	"bitbucket.org/mmdatafocus/attendance_backend/faces"
	"bitbucket.org/mmdatafocus/attendance_backend/middlewares"
	"bitbucket.org/mmdatafocus/attendance_backend/models"
	"bitbucket.org/mmdatafocus/attendance_backend/utils"
	"bitbucket.org/mmdatafocus/attendance_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = "8080"

var tracer trace.Tracer = otel.Tracer("attendance-backend")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

type timeLogRequest struct {
	EmployeeId     int             `json:"employeeId"`
	FaceDescriptor json.RawMessage `json:"faceDescriptor"`
	Type           models.LogType  `json:"type" binding:"required,logtype"`
	LogTime        *time.Time      `json:"logTime"`
}

type verifyRequest struct {
	Descriptor json.RawMessage `json:"descriptor" binding:"required"`
	Mode       string          `json:"mode" binding:"required,oneof=checkin checkout"`
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type faceProfileRequest struct {
	FaceDescriptor json.RawMessage `json:"faceDescriptor" binding:"required"`
}

type departmentRequest struct {
	Name string `json:"name" binding:"required"`
}

type devicePairRequest struct {
	Name string `json:"name" binding:"required"`
	Code string `json:"code" binding:"required"`
}

// kioskDevice is the redis-persisted record of a paired capture device.
type kioskDevice struct {
	Name     string    `json:"name"`
	PairedAt time.Time `json:"paired_at"`
}

func registerValidations() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("logtype", func(fl validator.FieldLevel) bool {
			return models.LogType(fl.Field().String()).IsValid()
		})
	}
}

func loginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		result, err := models.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"token": result.Token,
			"jwt":   result.Jwt,
			"user":  result.User,
		})
	}
}

func logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := utils.GetTokenFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		_ = utils.RevokeSessionToken(token)
		c.Status(http.StatusNoContent)
	}
}

// meHandler reports who the current session belongs to, whichever of the two
// auth paths established it.
func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if username, ok := utils.GetUsernameFromContext(ctx); ok {
			userId, _ := utils.GetUserIdFromContext(ctx)
			userName, _ := utils.GetUserNameFromContext(ctx)
			c.JSON(http.StatusOK, gin.H{
				"username": username,
				"userId":   userId,
				"name":     userName,
				"isAdmin":  isAdmin(c),
			})
			return
		}
		if claims := middlewares.CtxValue(ctx); claims != nil {
			c.JSON(http.StatusOK, gin.H{
				"userId":  claims.ID,
				"role":    claims.Role,
				"isAdmin": claims.Role == "A",
			})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// createDevicePairingHandler lets an admin mint a one-shot pairing code for a
// named kiosk. The code lives in redis with a TTL, not in process memory, so
// any instance can redeem it.
func createDevicePairingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		name := strings.TrimSpace(c.Query("name"))
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name query parameter is required"})
			return
		}
		code := uuid.NewString()
		if err := utils.StoreVerificationCode("device-pair", name, code, 15*time.Minute); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"name":      name,
			"code":      code,
			"expiresIn": "15m",
		})
	}
}

// pairDeviceHandler redeems a pairing code and hands the kiosk a JWT, so the
// capture loop can call the punch endpoints without a user session.
func pairDeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devicePairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name and code are required"})
			return
		}
		ok, err := utils.CheckVerificationCode("device-pair", req.Name, req.Code)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired pairing code"})
			return
		}
		device := kioskDevice{Name: req.Name, PairedAt: time.Now()}
		if err := config.SetRedisObject("Device:"+req.Name, device, 0); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		jwtToken, err := utils.JwtGenerate(0, "kiosk")
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"device": device,
			"jwt":    jwtToken,
		})
	}
}

func getDeviceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		name := strings.TrimSpace(c.Param("name"))
		var device kioskDevice
		found, err := config.GetRedisObject("Device:"+name, &device)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not paired"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"device": device})
	}
}

// timeLogHandler is the punch endpoint. A body with a faceDescriptor runs
// the full recognition pipeline; an employeeId without a descriptor is the
// admin-only manual bypass, which still goes through the same per-day state
// machine.
func timeLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "timeLogHandler")
		defer span.End()

		var req timeLogRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: type must be checkin or checkout"})
			return
		}

		var result *models.PunchResult
		var err error
		if len(req.FaceDescriptor) == 0 {
			if req.EmployeeId <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "either faceDescriptor or employeeId is required"})
				return
			}
			if !isAdmin(c) {
				c.JSON(http.StatusForbidden, gin.H{"error": "manual time logs require an admin session"})
				return
			}
			// Only the admin manual path may set its own logTime, for
			// corrections. Face punches are always stamped server-side.
			logTime := time.Now()
			if req.LogTime != nil {
				logTime = *req.LogTime
			}
			result, err = models.RecordManualPunch(ctx, req.EmployeeId, req.Type, logTime)
		} else {
			result, err = models.RecordFacePunch(ctx, facePunchInput(&req))
		}
		if err != nil {
			writePunchError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":    true,
			"employee":   result.Employee,
			"department": result.Department,
			"distance":   result.Distance,
			"logTime":    result.TimeLog.LogTime,
			"timeLog":    result.TimeLog,
			"message":    result.Message,
		})
	}
}

// facePunchInput builds the orchestrator input for a face punch. Any
// client-supplied logTime is ignored; face punches are stamped server-side
// so a kiosk cannot backdate attendance.
func facePunchInput(req *timeLogRequest) *models.PunchInput {
	return &models.PunchInput{
		Descriptor: req.FaceDescriptor,
		Action:     req.Type,
		LogTime:    time.Now(),
	}
}

// verifyHandler is the live-capture variant of the punch endpoint: same
// matcher, threshold and state machine, but the capture loop fires several
// frames per second, so a short redis lock per client suppresses duplicate
// submissions. The lock is best effort; the MySQL advisory lock inside the
// orchestrator is what actually guarantees serialization.
func verifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: descriptor and mode are required"})
			return
		}

		var lock *redislock.Lock
		if redisLock := config.GetRedisLock(); redisLock != nil {
			var err error
			lock, err = redisLock.Obtain(c.Request.Context(), "verify:"+c.ClientIP(), 3*time.Second, nil)
			if err == redislock.ErrNotObtained {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "a verification for this client is already in progress"})
				return
			} else if err != nil {
				logger.WithFields(logrus.Fields{
					"field":     "verifyHandler",
					"client_ip": c.ClientIP(),
				}).Warn("error obtaining redis lock; proceeding without redis lock: " + err.Error())
				lock = nil
			}
		}
		defer func() {
			if lock == nil {
				return
			}
			if releaseErr := lock.Release(c.Request.Context()); releaseErr != nil && releaseErr != redislock.ErrLockNotHeld {
				logger.WithFields(logrus.Fields{
					"field":     "verifyHandler",
					"client_ip": c.ClientIP(),
				}).Warn("failed to release redis lock: " + releaseErr.Error())
			}
		}()

		result, err := models.RecordFacePunch(c.Request.Context(), &models.PunchInput{
			Descriptor: req.Descriptor,
			Action:     models.LogType(req.Mode),
			LogTime:    time.Now(),
		})
		if err != nil {
			writePunchError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"success":  true,
			"employee": result.Employee,
			"distance": result.Distance,
			"timeLog":  result.TimeLog,
			"message":  result.Message,
		})
	}
}

// writePunchError maps the orchestrator's failure modes onto HTTP statuses.
// Denials and malformed descriptors are client errors; an unmatched face is
// 401 and carries only the distance, never the closest identity; an empty
// roster is 404.
func writePunchError(c *gin.Context, err error) {
	var denied *models.PunchDeniedError
	var noMatch *models.NoMatchError
	switch {
	case errors.Is(err, faces.ErrInvalidDescriptorFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNoEnrolledFaces):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &noMatch):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":    "face not recognized",
			"distance": noMatch.Distance,
		})
	case errors.As(err, &denied):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": denied.Message,
			"details": gin.H{
				"code":          denied.Code,
				"currentStatus": denied.CurrentState,
			},
		})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func createEmployeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		var req models.NewEmployee
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		employee, err := models.CreateEmployee(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, employee)
	}
}

func getEmployeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee id"})
			return
		}
		employee, err := models.GetEmployeeById(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"employee": employee,
			"enrolled": employee.IsEnrolled(),
		})
	}
}

func deleteEmployeeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee id"})
			return
		}
		if err := models.DeleteEmployee(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// setFaceProfileHandler serves both enroll (POST) and re-enroll (PUT); the
// previous descriptor, if any, is overwritten either way.
func setFaceProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee id"})
			return
		}
		var req faceProfileRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "faceDescriptor is required"})
			return
		}
		employee, err := models.SetEmployeeFaceProfile(c.Request.Context(), id, req.FaceDescriptor)
		if err != nil {
			if errors.Is(err, faces.ErrInvalidDescriptorFormat) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"employee": employee,
		})
	}
}

func deleteFaceProfileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee id"})
			return
		}
		if err := models.ClearEmployeeFaceProfile(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func createDepartmentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isAdmin(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin session required"})
			return
		}
		var req departmentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		department, err := models.CreateDepartment(c.Request.Context(), req.Name)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, department)
	}
}

// workHoursHandler is the read path for daily aggregates. A missing row is
// classified rather than 404ed: a past day with no logs at all is absent, a
// past day whose logs never closed is error, and the current or a future day
// is simply not finalized yet.
func workHoursHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid employee id"})
			return
		}
		ctx := c.Request.Context()
		if _, err := models.GetEmployeeById(ctx, id); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		loc := config.CompanyLocation()
		day := time.Now().In(loc)
		if raw := strings.TrimSpace(c.Query("date")); raw != "" {
			day, err = time.ParseInLocation("2006-01-02", raw, loc)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
				return
			}
		}

		row, err := models.GetWorkHours(ctx, id, day)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if row != nil {
			c.JSON(http.StatusOK, gin.H{"workHours": row})
			return
		}

		today := utils.DateOnly(time.Now(), loc)
		if !utils.DateOnly(day, loc).Before(today) {
			c.JSON(http.StatusOK, gin.H{
				"workHours": nil,
				"status":    "open",
				"message":   "work hours are not finalized for this date yet",
			})
			return
		}

		logs, err := models.GetTimeLogsForDay(ctx, config.GetDB(), id, day, loc)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		status := models.WorkHoursStatusAbsent
		if len(logs) > 0 {
			// Punches exist but the day never closed with a checkout.
			status = models.WorkHoursStatusError
		}
		c.JSON(http.StatusOK, gin.H{
			"workHours": nil,
			"status":    status,
		})
	}
}

func isAdmin(c *gin.Context) bool {
	admin, ok := utils.GetIsAdminFromContext(c.Request.Context())
	return ok && admin
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	registerValidations()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production: the punch endpoint
	// is unauthenticated by design, kiosks have no session).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/api/auth/login", loginHandler())
	r.POST("/api/auth/logout", logoutHandler())
	r.GET("/api/auth/me", meHandler())

	r.POST("/api/devices/pairing-codes", createDevicePairingHandler())
	r.POST("/api/devices/pair", pairDeviceHandler())
	r.GET("/api/devices/:name", getDeviceHandler())

	r.POST("/api/time-logs", timeLogHandler())
	r.POST("/api/face-recognition/verify", verifyHandler())

	r.POST("/api/employees", createEmployeeHandler())
	r.GET("/api/employees/:id", getEmployeeHandler())
	r.DELETE("/api/employees/:id", deleteEmployeeHandler())
	// Enroll and re-enroll are the same write; both verbs accepted.
	r.POST("/api/employees/:id/face-profile", setFaceProfileHandler())
	r.PUT("/api/employees/:id/face-profile", setFaceProfileHandler())
	r.DELETE("/api/employees/:id/face-profile", deleteFaceProfileHandler())
	r.GET("/api/employees/:id/work-hours", workHoursHandler())

	r.POST("/api/departments", createDepartmentHandler())

	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Start the work-hours reconciler (repairs best-effort aggregation).
	reconcilerCtx, cancelReconciler := context.WithCancel(context.Background())
	defer cancelReconciler()
	go workflow.NewWorkHoursReconciler(db, logger).Run(reconcilerCtx)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("attendance backend listening on port ", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelReconciler()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"correlation_id": cid,
				"path":           c.Request.URL.Path,
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
