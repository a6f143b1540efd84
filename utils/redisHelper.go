package utils

import (
	"os"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/config"
)

func GetSessionLifespan() time.Duration {
	lifespan, err := strconv.Atoi(os.Getenv("SESSION_HOUR_LIFESPAN"))
	if err != nil {
		lifespan = 24
	}
	return time.Duration(lifespan) * time.Hour
}

/* Sessions */

// Session tokens live in redis with an explicit TTL; expiry is enforced by
// the store, not by process-global maps.

func StoreSessionToken(token string, username string) error {
	return config.SetRedisValue("Token:"+token, username, GetSessionLifespan())
}

func LookupSessionToken(token string) (string, bool, error) {
	return config.GetRedisValue("Token:" + token)
}

func RevokeSessionToken(token string) error {
	return config.RemoveRedisKey("Token:" + token)
}

/* Ephemeral codes */

// Short-lived verification codes (device pairing, password reset). Same
// pattern as sessions: redis key with TTL, checked on read.

func StoreVerificationCode(purpose string, subject string, code string, ttl time.Duration) error {
	return config.SetRedisValue("Verify:"+purpose+":"+subject, code, ttl)
}

func CheckVerificationCode(purpose string, subject string, code string) (bool, error) {
	stored, exists, err := config.GetRedisValue("Verify:" + purpose + ":" + subject)
	if err != nil {
		return false, err
	}
	if !exists || stored != code {
		return false, nil
	}
	// One-shot: a code that verified once cannot be replayed.
	_ = config.RemoveRedisKey("Verify:" + purpose + ":" + subject)
	return true, nil
}
