package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const subscriptionColumns = `id, created_at, updated_at, user_id, target_type, target_id`

func scanSubscription(row interface{ Scan(...any) error }) (Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt, &sub.UserID, &sub.TargetType, &sub.TargetID)
	return sub, err
}

func (s *PostgresStore) CreateSubscription(ctx context.Context, sub Subscription) (Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (user_id, target_type, target_id)
		VALUES ($1, $2, $3)
		RETURNING `+subscriptionColumns,
		sub.UserID, sub.TargetType, sub.TargetID)
	created, err := scanSubscription(row)
	if err != nil {
		return Subscription{}, fmt.Errorf("insert subscription: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id=$1`, id))
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, userID int64, targetType string, targetID int64, p Paging) ([]Subscription, int, error) {
	conds := []string{"TRUE"}
	args := []any{}
	if userID > 0 {
		args = append(args, userID)
		conds = append(conds, fmt.Sprintf("user_id=$%d", len(args)))
	}
	if targetType != "" {
		args = append(args, targetType)
		conds = append(conds, fmt.Sprintf("target_type=$%d", len(args)))
	}
	if targetID > 0 {
		args = append(args, targetID)
		conds = append(conds, fmt.Sprintf("target_id=$%d", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscriptions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count subscriptions: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions` + where +
		orderClause(p, map[string]string{"id": "id", "target_type": "target_type"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const subEventColumns = `id, created_at, subscriber_id, author_id, event_type, event_info`

func scanSubscriptionEvent(row interface{ Scan(...any) error }) (SubscriptionEvent, error) {
	var e SubscriptionEvent
	var info []byte
	err := row.Scan(&e.ID, &e.CreatedAt, &e.SubscriberID, &e.AuthorID, &e.EventType, &info)
	if err != nil {
		return SubscriptionEvent{}, err
	}
	if len(info) > 0 {
		if err := json.Unmarshal(info, &e.EventInfo); err != nil {
			return SubscriptionEvent{}, fmt.Errorf("decode subscription event info: %w", err)
		}
	}
	return e, nil
}

// ListSubscriptionEvents returns the per-subscriber delivery queue.
func (s *PostgresStore) ListSubscriptionEvents(ctx context.Context, subscriberID int64, p Paging) ([]SubscriptionEvent, int, error) {
	where := " WHERE subscriber_id=$1"
	args := []any{subscriberID}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subscription_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count subscription events: %w", err)
	}
	if p.Marker > 0 {
		where += fmt.Sprintf(" AND id > %d", p.Marker)
	}
	query := `SELECT ` + subEventColumns + ` FROM subscription_events` + where +
		orderClause(p, map[string]string{"id": "id", "created_at": "created_at"}, "id") + limitClause(p)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list subscription events: %w", err)
	}
	defer rows.Close()

	var events []SubscriptionEvent
	for rows.Next() {
		e, err := scanSubscriptionEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan subscription event: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func (s *PostgresStore) GetSubscriptionEvent(ctx context.Context, id int64) (SubscriptionEvent, error) {
	return scanSubscriptionEvent(s.db.QueryRowContext(ctx,
		`SELECT `+subEventColumns+` FROM subscription_events WHERE id=$1`, id))
}

// ListNotificationsSince returns deliveries created after the given instant,
// joined with subscriber contact details and the per-user email preference.
func (s *PostgresStore) ListNotificationsSince(ctx context.Context, since time.Time) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT se.id, se.created_at, se.subscriber_id, se.author_id, se.event_type, se.event_info,
			u.email, u.full_name, COALESCE(a.full_name, ''),
			(SELECT up.value FROM user_preferences up WHERE up.user_id = u.id AND up.key = 'plugin_email')
		FROM subscription_events se
		JOIN users u ON u.id = se.subscriber_id
		LEFT JOIN users a ON a.id = se.author_id
		WHERE se.created_at > $1
		ORDER BY se.created_at, se.id`, since)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notes []Notification
	for rows.Next() {
		var n Notification
		var info []byte
		err := rows.Scan(&n.ID, &n.CreatedAt, &n.SubscriberID, &n.AuthorID, &n.EventType, &info,
			&n.SubscriberEmail, &n.SubscriberFullName, &n.AuthorFullName, &n.EmailPreference)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(info) > 0 {
			if err := json.Unmarshal(info, &n.EventInfo); err != nil {
				return nil, fmt.Errorf("decode notification info: %w", err)
			}
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteSubscriptionEvent acknowledges a delivery.
func (s *PostgresStore) DeleteSubscriptionEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscription_events WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
