package dispatch

import (
	"context"
	"database/sql"

	"github.com/leadwave/leadwave/internal/domain"
)

// SendLog is the Postgres-backed outcome log. One row per (campaign,
// subscriber); re-recording a recipient overwrites the prior outcome so a
// failed or skipped send can be retried on a later pass while sent rows
// stay final.
type SendLog struct {
	db *sql.DB
}

func NewSendLog(db *sql.DB) *SendLog {
	return &SendLog{db: db}
}

// Existing returns the recorded outcome per subscriber for a campaign.
func (s *SendLog) Existing(ctx context.Context, campaignID string) (map[string]domain.SendOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber_id, outcome FROM campaign_send_log WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return nil, domain.StorageErr("sendlog: existing", err)
	}
	defer rows.Close()

	outcomes := make(map[string]domain.SendOutcome)
	for rows.Next() {
		var id string
		var outcome domain.SendOutcome
		if err := rows.Scan(&id, &outcome); err != nil {
			return nil, domain.StorageErr("sendlog: scan", err)
		}
		outcomes[id] = outcome
	}
	return outcomes, rows.Err()
}

// Record upserts one recipient outcome.
func (s *SendLog) Record(ctx context.Context, campaignID, tenantID string, o domain.RecipientOutcome) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaign_send_log
		(campaign_id, subscriber_id, tenant_id, email, outcome, error, message_id, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (campaign_id, subscriber_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			message_id = EXCLUDED.message_id,
			completed_at = EXCLUDED.completed_at`,
		campaignID, o.SubscriberID, tenantID, o.Email, o.Outcome, o.Error, o.MessageID, o.CompletedAt)
	if err != nil {
		return domain.StorageErr("sendlog: record", err)
	}
	return nil
}
