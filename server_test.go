package main

import (
	"encoding/json"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/attendance_backend/models"
)

func TestFacePunchIgnoresClientLogTime(t *testing.T) {
	backdated := time.Now().Add(-48 * time.Hour)
	req := &timeLogRequest{
		FaceDescriptor: json.RawMessage(`[0.1, 0.2]`),
		Type:           models.LogTypeCheckin,
		LogTime:        &backdated,
	}
	input := facePunchInput(req)
	if input.LogTime.Before(time.Now().Add(-time.Minute)) {
		t.Fatalf("face punch stamped %v, want server-side now", input.LogTime)
	}
	if input.Action != models.LogTypeCheckin {
		t.Fatalf("face punch action %q, want checkin", input.Action)
	}
}
