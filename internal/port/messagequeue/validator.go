package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects only need to be JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectSessionStage:
		var p SessionStagePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.SessionID == "" || p.To == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("session_id and to are required"))
		}
	case SubjectSessionFinished:
		var p SessionFinishedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.SessionID == "" || p.Status == "" {
			return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("session_id and status are required"))
		}
	}
	return nil
}
