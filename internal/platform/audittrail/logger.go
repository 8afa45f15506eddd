package audittrail

import (
	"context"

	"github.com/rs/zerolog"
)

// LogRecorder writes entries to a zerolog logger. It stands in for the
// database when the desk runs without one.
type LogRecorder struct {
	Logger zerolog.Logger
}

func (r LogRecorder) Record(ctx context.Context, e *Entry) error {
	prepare(ctx, e)
	r.Logger.Info().
		Str("audit_id", e.ID.String()).
		Str("user_id", e.UserID).
		Str("action", string(e.Action)).
		Str("entity_type", e.EntityType).
		Str("entity_id", e.EntityID).
		Str("severity", string(e.Severity)).
		Str("request_id", e.RequestID).
		Interface("details", e.Details).
		Msg("audit")
	return nil
}
