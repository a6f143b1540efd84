package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Attendance business policy. The defaults are the calibrated production
// values; each knob can be overridden via env so deployments don't need a
// rebuild to retune them.
//
// Env:
// - FACE_MATCH_THRESHOLD   (default 0.4)
// - REGULAR_HOURS_CAP      (default 8)
// - LATE_CUTOFF            (default "08:30", 24h HH:MM)
// - COMPANY_TIMEZONE       (default "Asia/Yangon")

const (
	// DefaultFaceMatchThreshold is the maximum Euclidean distance at which two
	// descriptors are treated as the same person. Enrollment-time and
	// recognition-time comparisons must share this value.
	DefaultFaceMatchThreshold = 0.4

	// DefaultRegularHoursCap is the daily cap on regular hours; anything
	// beyond it counts as overtime.
	DefaultRegularHoursCap = 8.0

	DefaultLateCutoffHour   = 8
	DefaultLateCutoffMinute = 30

	DefaultCompanyTimezone = "Asia/Yangon"
)

func FaceMatchThreshold() float64 {
	return floatFromEnv("FACE_MATCH_THRESHOLD", DefaultFaceMatchThreshold)
}

func RegularHoursCap() float64 {
	return floatFromEnv("REGULAR_HOURS_CAP", DefaultRegularHoursCap)
}

// LateCutoff returns the local time-of-day after which a first checkin is
// classified late.
func LateCutoff() (hour, minute int) {
	raw := strings.TrimSpace(os.Getenv("LATE_CUTOFF"))
	if raw == "" {
		return DefaultLateCutoffHour, DefaultLateCutoffMinute
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return DefaultLateCutoffHour, DefaultLateCutoffMinute
	}
	h, errH := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, errM := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errH != nil || errM != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return DefaultLateCutoffHour, DefaultLateCutoffMinute
	}
	return h, m
}

func CompanyTimezone() string {
	tz := strings.TrimSpace(os.Getenv("COMPANY_TIMEZONE"))
	if tz == "" {
		return DefaultCompanyTimezone
	}
	return tz
}

// CompanyLocation resolves the company timezone, falling back to UTC when the
// tz database entry is missing rather than failing the punch.
func CompanyLocation() *time.Location {
	loc, err := time.LoadLocation(CompanyTimezone())
	if err != nil {
		return time.UTC
	}
	return loc
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}
