package model

import (
	"context"
	"testing"
)

func TestRunContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      *RunContext
		wantErr bool
	}{
		{
			name:    "valid context",
			rc:      &RunContext{RunID: "run-1", Deployment: "akvoflow-1"},
			wantErr: false,
		},
		{
			name:    "missing RunID",
			rc:      &RunContext{Deployment: "akvoflow-1"},
			wantErr: true,
		},
		{
			name:    "missing Deployment",
			rc:      &RunContext{RunID: "run-1"},
			wantErr: true,
		},
		{
			name:    "missing both",
			rc:      &RunContext{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunContext_ForArchive(t *testing.T) {
	rc := &RunContext{RunID: "run-1", Deployment: "akvoflow-1"}
	scoped := rc.ForArchive("a.zip")
	if scoped.Archive != "a.zip" {
		t.Errorf("Archive = %q, want a.zip", scoped.Archive)
	}
	if rc.Archive != "" {
		t.Error("ForArchive should not modify the receiver")
	}
}

func TestWithRunContext_roundTrip(t *testing.T) {
	rc := &RunContext{RunID: "run-1"}
	ctx := WithRunContext(context.Background(), rc)
	if got := RunContextFrom(ctx); got != rc {
		t.Errorf("RunContextFrom() = %v, want %v", got, rc)
	}
	if RunContextFrom(context.Background()) != nil {
		t.Error("RunContextFrom() on empty context should be nil")
	}
}
