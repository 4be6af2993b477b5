package observability

import "github.com/google/uuid"

// NewCorrelationID mints a time-ordered identifier for tying together the
// log lines, metrics, and JobStats entries produced by one scheduler firing
// or one ad-hoc control-surface request.
func NewCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
