package messagequeue

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    string
		wantErr string
	}{
		{
			name:    "valid stage",
			subject: SubjectSessionStage,
			data:    `{"session_id":"s1","project":"libpng","function":"png_read_info","iteration":0,"from":"generate","to":"compile","fix_count":0,"tool_call_count":1}`,
		},
		{
			name:    "valid finished",
			subject: SubjectSessionFinished,
			data:    `{"session_id":"s1","project":"libpng","status":"budget_exceeded","reason":"fix","fix_count":3,"duration_ms":1200}`,
		},
		{
			name:    "unknown subject",
			subject: "unknown.subject",
			data:    `{"foo":"bar"}`,
		},
		{
			name:    "invalid JSON",
			subject: SubjectSessionStage,
			data:    `{not valid json`,
			wantErr: "invalid JSON",
		},
		{
			name:    "wrong field type",
			subject: SubjectSessionStage,
			data:    `{"session_id":"s1","to":"compile","fix_count":"three"}`,
			wantErr: "schema validation failed",
		},
		{
			name:    "stage without target",
			subject: SubjectSessionStage,
			data:    `{"session_id":"s1"}`,
			wantErr: "session_id and to are required",
		},
		{
			name:    "finished without status",
			subject: SubjectSessionFinished,
			data:    `{"session_id":"s1"}`,
			wantErr: "session_id and status are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.subject, []byte(tt.data))
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
