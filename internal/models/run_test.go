package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		run     Run
		wantErr bool
	}{
		{"valid running", Run{StartedAt: now, Status: RunStatusRunning}, false},
		{"valid failed", Run{StartedAt: now, Status: RunStatusFailed}, false},
		{"missing start", Run{Status: RunStatusRunning}, true},
		{"unknown status", Run{StartedAt: now, Status: "paused"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.IsType(t, ErrValidation{}, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_Duration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Run{StartedAt: start}

	assert.False(t, r.Finished())
	assert.Equal(t, 90*time.Second, r.Duration(start.Add(90*time.Second)))

	end := start.Add(time.Minute)
	r.EndedAt = &end
	assert.True(t, r.Finished())
	assert.Equal(t, time.Minute, r.Duration(start.Add(time.Hour)))
}

func TestStreamResult_Validate(t *testing.T) {
	assert.ErrorIs(t, (&StreamResult{StreamName: "video1"}).Validate(), ErrRunIDRequired)
	assert.ErrorIs(t, (&StreamResult{RunID: NewULID()}).Validate(), ErrStreamNameRequired)
	assert.NoError(t, (&StreamResult{RunID: NewULID(), StreamName: "video1"}).Validate())
}

func TestSnapshot_Validate(t *testing.T) {
	id := NewULID()
	assert.ErrorIs(t, (&Snapshot{StreamName: "video1", TakenAt: time.Now()}).Validate(), ErrRunIDRequired)
	assert.ErrorIs(t, (&Snapshot{RunID: id, TakenAt: time.Now()}).Validate(), ErrStreamNameRequired)
	assert.Error(t, (&Snapshot{RunID: id, StreamName: "video1"}).Validate())
	assert.NoError(t, (&Snapshot{RunID: id, StreamName: "video1", TakenAt: time.Now()}).Validate())
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "runs", Run{}.TableName())
	assert.Equal(t, "stream_results", StreamResult{}.TableName())
	assert.Equal(t, "snapshots", Snapshot{}.TableName())
}
