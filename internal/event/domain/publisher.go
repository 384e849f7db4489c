package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Publisher stages events for asynchronous delivery. Implementations must be
// safe to call inside a database transaction via WithTx so the event commits
// or rolls back with the state change.
type Publisher interface {
	WithTx(tx *gorm.DB) Publisher
	Publish(ctx context.Context, orgID snowflake.ID, topic string, payload map[string]any, dedupeKey string) error
}
