package store

import (
	"context"
	"fmt"

	"github.com/spigell/cv-intake/internal/domain"
)

// AppendSendLog records one outbound mail attempt.
func (db *DB) AppendSendLog(ctx context.Context, entry domain.SendLogEntry) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO email_send_log (sent_at, application_id, kind, recipient, sender, subject, success, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.SentAt, entry.ApplicationID, string(entry.Kind), entry.Recipient, entry.Sender,
		entry.Subject, entry.Success, nullIfEmpty(entry.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to append send log: %w", err)
	}
	return nil
}
