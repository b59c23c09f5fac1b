// Package subscriber is the single source of truth for subscriber identity,
// lifecycle state, and per-tenant aggregate counters.
//
// Every state transition applies the subscriber row write, the counter
// delta, and the event append inside one database transaction, so the
// aggregate counters always equal the sum of actual row states:
// active + unsubscribed + bounced + complained == total.
package subscriber

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/leadwave/leadwave/internal/domain"
)

// Store provides database operations for subscribers, events, and stats.
type Store struct {
	db *sql.DB
}

// NewStore creates a subscriber store on the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// HashEmail creates a SHA256 hash of a normalized email address.
func HashEmail(email string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(h[:])
}

// NormalizeEmail lowercases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SubscribeAttrs carries the optional attributes of a subscribe call.
type SubscribeAttrs struct {
	FirstName    string
	LastName     string
	Source       domain.SubscriberSource
	Tags         []string
	CustomFields map[string]domain.CustomFieldValue
	Consent      *domain.Consent
}

// statsDelta is the counter adjustment applied alongside a row write.
type statsDelta struct {
	total, active, unsubscribed, bounced, complained, growth int64
}

// Subscribe creates or reactivates the subscriber for (tenantID, email).
//
// No existing row: the subscriber is created active and the total/active/
// growth counters increment. An unsubscribed row is reactivated in place
// (never duplicated) with active/growth up and unsubscribed down. An
// already-active row only unions the campaign attribution; counters do not
// move, so subscribing twice is idempotent. Bounced and complained rows are
// terminal and are not reactivated here.
//
// The operation is atomic per (tenantID, email): the row is locked FOR
// UPDATE and a concurrent-insert unique violation is retried once before
// surfacing domain.ErrDuplicateSubscriberRace.
func (s *Store) Subscribe(ctx context.Context, tenantID, email string, attrs SubscribeAttrs, campaignID string) (*domain.Subscriber, error) {
	sub, err := s.subscribeOnce(ctx, tenantID, email, attrs, campaignID)
	if isUniqueViolation(err) {
		// Lost the insert race; the row exists now, retry resolves it.
		sub, err = s.subscribeOnce(ctx, tenantID, email, attrs, campaignID)
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateSubscriberRace
		}
	}
	return sub, err
}

func (s *Store) subscribeOnce(ctx context.Context, tenantID, email string, attrs SubscribeAttrs, campaignID string) (*domain.Subscriber, error) {
	email = NormalizeEmail(email)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domain.StorageErr("subscriber: begin subscribe", err)
	}
	defer tx.Rollback()

	existing, err := lockByEmail(ctx, tx, tenantID, email)
	if err != nil {
		return nil, err
	}

	var sub *domain.Subscriber
	switch {
	case existing == nil:
		sub, err = s.insertSubscriber(ctx, tx, tenantID, email, attrs, campaignID, now)
		if err != nil {
			return nil, err
		}
		if err := applyStatsDelta(ctx, tx, tenantID, statsDelta{total: 1, active: 1, growth: 1}); err != nil {
			return nil, err
		}
		if err := appendEvent(ctx, tx, sub.ID, tenantID, domain.EventSubscribe, campaignID, nil, now); err != nil {
			return nil, err
		}

	case existing.Status == domain.SubscriberUnsubscribed:
		sub = existing
		sub.Status = domain.SubscriberActive
		sub.SubscribedAt = now
		sub.UnsubscribedAt = nil
		unionCampaign(sub, campaignID)

		campaigns, _ := json.Marshal(sub.CampaignIDs)
		_, err = tx.ExecContext(ctx, `UPDATE subscribers
			SET status = $1, subscribed_at = $2, unsubscribed_at = NULL, campaign_ids = $3, updated_at = $2
			WHERE id = $4`,
			domain.SubscriberActive, now, campaigns, sub.ID)
		if err != nil {
			return nil, domain.StorageErr("subscriber: reactivate", err)
		}
		if err := applyStatsDelta(ctx, tx, tenantID, statsDelta{active: 1, unsubscribed: -1, growth: 1}); err != nil {
			return nil, err
		}
		meta := json.RawMessage(`{"resubscribed":true}`)
		if err := appendEvent(ctx, tx, sub.ID, tenantID, domain.EventSubscribe, campaignID, meta, now); err != nil {
			return nil, err
		}

	default:
		// Active, bounced, or complained: union campaign attribution only.
		sub = existing
		if campaignID != "" && !sub.HasCampaign(campaignID) {
			unionCampaign(sub, campaignID)
			campaigns, _ := json.Marshal(sub.CampaignIDs)
			_, err = tx.ExecContext(ctx, `UPDATE subscribers SET campaign_ids = $1, updated_at = $2 WHERE id = $3`,
				campaigns, now, sub.ID)
			if err != nil {
				return nil, domain.StorageErr("subscriber: union campaign", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, domain.StorageErr("subscriber: commit subscribe", err)
	}
	return sub, nil
}

func (s *Store) insertSubscriber(ctx context.Context, tx *sql.Tx, tenantID, email string, attrs SubscribeAttrs, campaignID string, now time.Time) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		Email:        email,
		EmailHash:    HashEmail(email),
		FirstName:    attrs.FirstName,
		LastName:     attrs.LastName,
		Status:       domain.SubscriberActive,
		Source:       attrs.Source,
		Tags:         attrs.Tags,
		CustomFields: attrs.CustomFields,
		Consent:      attrs.Consent,
		SubscribedAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if sub.Source == "" {
		sub.Source = domain.SourceManual
	}
	if campaignID != "" {
		sub.CampaignIDs = []string{campaignID}
	}

	campaigns, _ := json.Marshal(sub.CampaignIDs)
	custom, _ := json.Marshal(sub.CustomFields)
	consent, _ := json.Marshal(sub.Consent)

	_, err := tx.ExecContext(ctx, `INSERT INTO subscribers
		(id, tenant_id, email, email_hash, first_name, last_name, status, source,
		campaign_ids, tags, custom_fields, consent, engagement_score,
		subscribed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		sub.ID, sub.TenantID, sub.Email, sub.EmailHash, sub.FirstName, sub.LastName,
		sub.Status, sub.Source, campaigns, pq.Array(sub.Tags), custom, consent,
		sub.EngagementScore, sub.SubscribedAt, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, err
		}
		return nil, domain.StorageErr("subscriber: insert", err)
	}
	return sub, nil
}

// Unsubscribe transitions the subscriber for (tenantID, email) out of its
// current status. Returns false when no row matches. Unsubscribing an
// already-unsubscribed row is a no-op returning true without
// double-decrementing any counter.
func (s *Store) Unsubscribe(ctx context.Context, tenantID, email, campaignID, reason string) (bool, error) {
	email = NormalizeEmail(email)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, domain.StorageErr("subscriber: begin unsubscribe", err)
	}
	defer tx.Rollback()

	existing, err := lockByEmail(ctx, tx, tenantID, email)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}
	if existing.Status == domain.SubscriberUnsubscribed {
		return true, nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE subscribers
		SET status = $1, unsubscribed_at = $2, updated_at = $2 WHERE id = $3`,
		domain.SubscriberUnsubscribed, now, existing.ID)
	if err != nil {
		return false, domain.StorageErr("subscriber: unsubscribe", err)
	}

	delta := statsDelta{unsubscribed: 1}
	switch existing.Status {
	case domain.SubscriberActive:
		delta.active = -1
		delta.growth = -1
	case domain.SubscriberBounced:
		delta.bounced = -1
	case domain.SubscriberComplained:
		delta.complained = -1
	}
	if err := applyStatsDelta(ctx, tx, tenantID, delta); err != nil {
		return false, err
	}

	var meta json.RawMessage
	if reason != "" {
		raw, _ := json.Marshal(map[string]string{"reason": reason})
		meta = raw
	}
	if err := appendEvent(ctx, tx, existing.ID, tenantID, domain.EventUnsubscribe, campaignID, meta, now); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, domain.StorageErr("subscriber: commit unsubscribe", err)
	}
	return true, nil
}

// MarkBounced transitions an active subscriber to bounced. The transition
// is one-directional; there is no public un-bounce. Non-active rows are
// left untouched.
func (s *Store) MarkBounced(ctx context.Context, tenantID, email string) error {
	return s.markTerminal(ctx, tenantID, email, domain.SubscriberBounced, domain.EventBounce)
}

// MarkComplained transitions an active subscriber to complained, analogous
// to MarkBounced.
func (s *Store) MarkComplained(ctx context.Context, tenantID, email string) error {
	return s.markTerminal(ctx, tenantID, email, domain.SubscriberComplained, domain.EventComplaint)
}

func (s *Store) markTerminal(ctx context.Context, tenantID, email string, status domain.SubscriberStatus, event domain.EventType) error {
	email = NormalizeEmail(email)
	now := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageErr("subscriber: begin terminal transition", err)
	}
	defer tx.Rollback()

	existing, err := lockByEmail(ctx, tx, tenantID, email)
	if err != nil {
		return err
	}
	if existing == nil || existing.Status != domain.SubscriberActive {
		return nil
	}

	_, err = tx.ExecContext(ctx, `UPDATE subscribers SET status = $1, updated_at = $2 WHERE id = $3`,
		status, now, existing.ID)
	if err != nil {
		return domain.StorageErr("subscriber: terminal transition", err)
	}

	delta := statsDelta{active: -1}
	if status == domain.SubscriberBounced {
		delta.bounced = 1
	} else {
		delta.complained = 1
	}
	if err := applyStatsDelta(ctx, tx, tenantID, delta); err != nil {
		return err
	}
	if err := appendEvent(ctx, tx, existing.ID, tenantID, event, "", nil, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageErr("subscriber: commit terminal transition", err)
	}
	return nil
}

// GetStats reads the tenant's aggregate counters. A tenant with no stats
// row yet reads as all zeros rather than an error.
func (s *Store) GetStats(ctx context.Context, tenantID string) (*domain.UsageStats, error) {
	query := `SELECT total_subscribers, active_subscribers, unsubscribed_subscribers,
		bounced_subscribers, complained_subscribers, subscriber_growth,
		total_revenue, conversions, updated_at
		FROM tenant_usage_stats WHERE tenant_id = $1`

	stats := &domain.UsageStats{TenantID: tenantID}
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&stats.TotalSubscribers, &stats.ActiveSubscribers, &stats.UnsubscribedSubscribers,
		&stats.BouncedSubscribers, &stats.ComplainedSubscribers, &stats.SubscriberGrowth,
		&stats.TotalRevenue, &stats.Conversions, &stats.UpdatedAt)
	if err == sql.ErrNoRows {
		return stats, nil
	}
	if err != nil {
		return nil, domain.StorageErr("subscriber: get stats", err)
	}
	return stats, nil
}

// ListFilter controls List filtering, sorting, and pagination.
type ListFilter struct {
	Status   domain.SubscriberStatus // empty = all statuses
	Search   string                  // case-insensitive substring on email/first/last name
	SortBy   string                  // whitelisted column, default subscribed_at
	SortDesc bool
	Page     int // 1-based
	PageSize int
}

var sortColumns = map[string]string{
	"email":            "email",
	"first_name":       "first_name",
	"last_name":        "last_name",
	"status":           "status",
	"subscribed_at":    "subscribed_at",
	"engagement_score": "engagement_score",
}

// List returns one page of the tenant's subscribers plus the total count.
// Status and search filters are applied in the query itself, and the total
// is counted over the same filtered set, so it always reflects the filters
// (not the raw tenant population).
func (s *Store) List(ctx context.Context, tenantID string, filter ListFilter) ([]*domain.Subscriber, int, error) {
	where := "WHERE tenant_id = $1"
	args := []any{tenantID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := len(args)
		where += fmt.Sprintf(" AND (email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", n, n, n)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM subscribers "+where, args...).Scan(&total); err != nil {
		return nil, 0, domain.StorageErr("subscriber: count", err)
	}

	sortCol, ok := sortColumns[filter.SortBy]
	if !ok {
		sortCol = "subscribed_at"
		filter.SortDesc = true
	}
	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}

	if filter.PageSize <= 0 {
		filter.PageSize = 50
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.PageSize

	args = append(args, filter.PageSize, offset)
	query := fmt.Sprintf(`SELECT id, tenant_id, email, first_name, last_name, status, source,
		campaign_ids, tags, custom_fields, engagement_score, subscribed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		where, sortCol, direction, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, domain.StorageErr("subscriber: list", err)
	}
	defer rows.Close()

	var subs []*domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, domain.StorageErr("subscriber: iterate list", err)
	}
	return subs, total, nil
}

// ActiveSubscribers returns every active subscriber for a tenant, for
// campaign recipient selection.
func (s *Store) ActiveSubscribers(ctx context.Context, tenantID string) ([]*domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, tenant_id, email, first_name, last_name, status, source,
		campaign_ids, tags, custom_fields, engagement_score, subscribed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers WHERE tenant_id = $1 AND status = $2 ORDER BY subscribed_at`,
		tenantID, domain.SubscriberActive)
	if err != nil {
		return nil, domain.StorageErr("subscriber: active", err)
	}
	defer rows.Close()

	var subs []*domain.Subscriber
	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Get retrieves a subscriber by id, or domain.ErrSubscriberNotFound.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*domain.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, email, first_name, last_name, status, source,
		campaign_ids, tags, custom_fields, engagement_score, subscribed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers WHERE tenant_id = $1 AND id = $2`, tenantID, id)

	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSubscriberNotFound
	}
	return sub, err
}

// GetByEmail retrieves a subscriber by its (tenant, email) identity.
func (s *Store) GetByEmail(ctx context.Context, tenantID, email string) (*domain.Subscriber, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, email, first_name, last_name, status, source,
		campaign_ids, tags, custom_fields, engagement_score, subscribed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers WHERE tenant_id = $1 AND email = $2`, tenantID, NormalizeEmail(email))

	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrSubscriberNotFound
	}
	return sub, err
}

// UpdateFields carries the partial attributes an Update may change.
// Nil pointers leave the stored value untouched.
type UpdateFields struct {
	FirstName       *string
	LastName        *string
	Tags            []string
	CustomFields    map[string]domain.CustomFieldValue
	EngagementScore *float64
}

// Update applies a partial attribute update and returns the fresh row.
// Lifecycle status is not updatable here; use the transition operations.
func (s *Store) Update(ctx context.Context, tenantID, id string, fields UpdateFields) (*domain.Subscriber, error) {
	set := []string{"updated_at = NOW()"}
	args := []any{tenantID, id}

	add := func(col string, val any) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if fields.FirstName != nil {
		add("first_name", *fields.FirstName)
	}
	if fields.LastName != nil {
		add("last_name", *fields.LastName)
	}
	if fields.Tags != nil {
		add("tags", pq.Array(fields.Tags))
	}
	if fields.CustomFields != nil {
		raw, _ := json.Marshal(fields.CustomFields)
		add("custom_fields", raw)
	}
	if fields.EngagementScore != nil {
		add("engagement_score", *fields.EngagementScore)
	}

	query := fmt.Sprintf("UPDATE subscribers SET %s WHERE tenant_id = $1 AND id = $2", strings.Join(set, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, domain.StorageErr("subscriber: update", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrSubscriberNotFound
	}
	return s.Get(ctx, tenantID, id)
}

// Delete removes a subscriber row entirely and retroactively adjusts the
// aggregate counters for its last status. The event log is untouched: no
// synthetic unsubscribe event is written, and past events stay for audit.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.StorageErr("subscriber: begin delete", err)
	}
	defer tx.Rollback()

	var status domain.SubscriberStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM subscribers WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
		tenantID, id).Scan(&status)
	if err == sql.ErrNoRows {
		return domain.ErrSubscriberNotFound
	}
	if err != nil {
		return domain.StorageErr("subscriber: lock for delete", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM subscribers WHERE tenant_id = $1 AND id = $2`, tenantID, id); err != nil {
		return domain.StorageErr("subscriber: delete", err)
	}

	delta := statsDelta{total: -1}
	switch status {
	case domain.SubscriberActive:
		delta.active = -1
		delta.growth = -1
	case domain.SubscriberUnsubscribed:
		delta.unsubscribed = -1
	case domain.SubscriberBounced:
		delta.bounced = -1
	case domain.SubscriberComplained:
		delta.complained = -1
	}
	if err := applyStatsDelta(ctx, tx, tenantID, delta); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.StorageErr("subscriber: commit delete", err)
	}
	return nil
}

// AppendEvent writes one append-only subscriber event outside a lifecycle
// transition (e.g. email_sent from the dispatcher, open/click from tracking).
func (s *Store) AppendEvent(ctx context.Context, event *domain.SubscriberEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO subscriber_events
		(id, subscriber_id, tenant_id, type, campaign_id, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.SubscriberID, event.TenantID, event.Type,
		nullable(event.CampaignID), []byte(event.Metadata), event.Timestamp)
	if err != nil {
		return domain.StorageErr("subscriber: append event", err)
	}
	return nil
}

// Events returns a subscriber's event history, oldest first.
func (s *Store) Events(ctx context.Context, tenantID, subscriberID string, limit int) ([]*domain.SubscriberEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, subscriber_id, tenant_id, type, campaign_id, metadata, timestamp
		FROM subscriber_events WHERE tenant_id = $1 AND subscriber_id = $2
		ORDER BY timestamp LIMIT $3`, tenantID, subscriberID, limit)
	if err != nil {
		return nil, domain.StorageErr("subscriber: events", err)
	}
	defer rows.Close()

	var events []*domain.SubscriberEvent
	for rows.Next() {
		e := &domain.SubscriberEvent{}
		var campaignID sql.NullString
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.SubscriberID, &e.TenantID, &e.Type, &campaignID, &metadata, &e.Timestamp); err != nil {
			return nil, domain.StorageErr("subscriber: scan event", err)
		}
		e.CampaignID = campaignID.String
		e.Metadata = metadata
		events = append(events, e)
	}
	return events, rows.Err()
}

// ---- transaction helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriber(row rowScanner) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{}
	var campaigns, custom []byte
	var tags pq.StringArray
	var unsubscribedAt sql.NullTime

	err := row.Scan(&sub.ID, &sub.TenantID, &sub.Email, &sub.FirstName, &sub.LastName,
		&sub.Status, &sub.Source, &campaigns, &tags, &custom, &sub.EngagementScore,
		&sub.SubscribedAt, &unsubscribedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, domain.StorageErr("subscriber: scan", err)
	}

	if len(campaigns) > 0 {
		json.Unmarshal(campaigns, &sub.CampaignIDs)
	}
	if len(custom) > 0 {
		json.Unmarshal(custom, &sub.CustomFields)
	}
	sub.Tags = tags
	if unsubscribedAt.Valid {
		sub.UnsubscribedAt = &unsubscribedAt.Time
	}
	return sub, nil
}

// lockByEmail loads and row-locks the subscriber for (tenant, email).
// Returns nil without error when no row exists.
func lockByEmail(ctx context.Context, tx *sql.Tx, tenantID, email string) (*domain.Subscriber, error) {
	row := tx.QueryRowContext(ctx, `SELECT id, tenant_id, email, first_name, last_name, status, source,
		campaign_ids, tags, custom_fields, engagement_score, subscribed_at, unsubscribed_at, created_at, updated_at
		FROM subscribers WHERE tenant_id = $1 AND email = $2 FOR UPDATE`, tenantID, email)

	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// applyStatsDelta upserts the tenant stats row and applies the counter
// adjustment inside the caller's transaction.
func applyStatsDelta(ctx context.Context, tx *sql.Tx, tenantID string, d statsDelta) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tenant_usage_stats
		(tenant_id, total_subscribers, active_subscribers, unsubscribed_subscribers,
		bounced_subscribers, complained_subscribers, subscriber_growth, total_revenue, conversions, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, 0, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			total_subscribers = tenant_usage_stats.total_subscribers + $2,
			active_subscribers = tenant_usage_stats.active_subscribers + $3,
			unsubscribed_subscribers = tenant_usage_stats.unsubscribed_subscribers + $4,
			bounced_subscribers = tenant_usage_stats.bounced_subscribers + $5,
			complained_subscribers = tenant_usage_stats.complained_subscribers + $6,
			subscriber_growth = tenant_usage_stats.subscriber_growth + $7,
			updated_at = NOW()`,
		tenantID, d.total, d.active, d.unsubscribed, d.bounced, d.complained, d.growth)
	if err != nil {
		return domain.StorageErr("subscriber: apply stats delta", err)
	}
	return nil
}

func appendEvent(ctx context.Context, tx *sql.Tx, subscriberID, tenantID string, eventType domain.EventType, campaignID string, metadata json.RawMessage, at time.Time) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO subscriber_events
		(id, subscriber_id, tenant_id, type, campaign_id, metadata, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.New().String(), subscriberID, tenantID, eventType, nullable(campaignID), []byte(metadata), at)
	if err != nil {
		return domain.StorageErr("subscriber: append event", err)
	}
	return nil
}

func unionCampaign(sub *domain.Subscriber, campaignID string) {
	if campaignID == "" || sub.HasCampaign(campaignID) {
		return
	}
	sub.CampaignIDs = append(sub.CampaignIDs, campaignID)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
