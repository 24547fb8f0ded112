package sqlxrepos

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/booking"
	"github.com/trezcool/chama/storage/database"
)

type bookingRepository struct {
	db database.DB
}

var _ booking.Repository = (*bookingRepository)(nil) // interface compliance check

func NewBookingRepository(db database.DB) *bookingRepository {
	return &bookingRepository{db: db}
}

// getExec lets the service run statements on its own transaction.
func (repo bookingRepository) getExec(svcExec []core.DBExecutor) core.DBExecutor {
	if len(svcExec) > 0 {
		return svcExec[0]
	}
	return repo.db
}

func (repo bookingRepository) GetSession(instanceID string, exec ...core.DBExecutor) (booking.Session, error) {
	query := `SELECT id, club_id, starts_at, status, payment_mode FROM session_instances WHERE id = $1`
	var sess booking.Session
	err := repo.getExec(exec).QueryRow(query, instanceID).
		Scan(&sess.ID, &sess.ClubID, &sess.StartsAt, &sess.Status, &sess.PaymentMode)
	if err != nil {
		if err == sql.ErrNoRows {
			return booking.Session{}, booking.ErrInstanceNotFound
		}
		return booking.Session{}, errors.Wrap(err, "getting session")
	}
	return sess, nil
}

func (repo bookingRepository) GetRsvp(personID, instanceID string, exec ...core.DBExecutor) (booking.Rsvp, error) {
	query := `
		SELECT person_id, instance_id, response, free_session, created_at, updated_at
		FROM rsvp_responses WHERE person_id = $1 AND instance_id = $2`
	var r booking.Rsvp
	err := repo.getExec(exec).QueryRow(query, personID, instanceID).
		Scan(&r.PersonID, &r.InstanceID, &r.Response, &r.FreeSession, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return booking.Rsvp{}, booking.ErrRsvpNotFound
		}
		return booking.Rsvp{}, errors.Wrap(err, "getting rsvp")
	}
	return r, nil
}

func (repo bookingRepository) UpsertRsvp(rsvp booking.Rsvp, exec ...core.DBExecutor) (booking.Rsvp, error) {
	query := `
		INSERT INTO rsvp_responses (person_id, instance_id, response, free_session, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (person_id, instance_id) DO UPDATE SET
			response = excluded.response,
			free_session = excluded.free_session,
			updated_at = excluded.updated_at`
	_, err := repo.getExec(exec).Exec(query,
		rsvp.PersonID, rsvp.InstanceID, rsvp.Response, rsvp.FreeSession, rsvp.CreatedAt, rsvp.UpdatedAt,
	)
	if err != nil {
		return booking.Rsvp{}, errors.Wrap(err, "upserting rsvp")
	}
	return rsvp, nil
}

func (repo bookingRepository) QueryInstanceRsvps(instanceID string) ([]booking.Rsvp, error) {
	query := `
		SELECT person_id, instance_id, response, free_session, created_at, updated_at
		FROM rsvp_responses WHERE instance_id = $1 ORDER BY updated_at DESC`
	rows, err := repo.db.Query(query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying rsvps")
	}
	defer func() { _ = rows.Close() }()

	var rsvps []booking.Rsvp
	for rows.Next() {
		var r booking.Rsvp
		if err = rows.Scan(&r.PersonID, &r.InstanceID, &r.Response, &r.FreeSession, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning rsvp")
		}
		rsvps = append(rsvps, r)
	}
	return rsvps, rows.Err()
}

func (repo bookingRepository) GetActiveSubscription(memberID, clubID string, exec ...core.DBExecutor) (booking.Subscription, error) {
	query := `
		SELECT id, member_id, club_id, plan_id, status, weekly_allowance, created_at, updated_at
		FROM member_subscriptions
		WHERE member_id = $1 AND club_id = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1`
	var sub booking.Subscription
	err := repo.getExec(exec).QueryRow(query, memberID, clubID).Scan(
		&sub.ID, &sub.MemberID, &sub.ClubID, &sub.PlanID, &sub.Status,
		&sub.WeeklyAllowance, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return booking.Subscription{}, booking.ErrSubscriptionNotFound
		}
		return booking.Subscription{}, errors.Wrap(err, "getting subscription")
	}
	return sub, nil
}

func (repo bookingRepository) CountWeekUsage(subscriptionID string, weekStart, weekEnd time.Time, exec ...core.DBExecutor) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM quota_usage_records q
		JOIN session_instances i ON i.id = q.instance_id
		WHERE q.subscription_id = $1 AND i.starts_at >= $2 AND i.starts_at < $3`
	var count int
	err := repo.getExec(exec).QueryRow(query, subscriptionID, weekStart, weekEnd).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "counting week usage")
	}
	return count, nil
}

func (repo bookingRepository) CreateUsage(subscriptionID, instanceID string, exec ...core.DBExecutor) (bool, error) {
	// idempotent on (subscription, instance); the unique key absorbs races
	query := `
		INSERT INTO quota_usage_records (id, subscription_id, instance_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT quota_usage_records_key DO NOTHING`
	res, err := repo.getExec(exec).Exec(query, uuid.New().String(), subscriptionID, instanceID, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, errors.Wrap(err, "inserting quota usage")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (repo bookingRepository) UsageExists(subscriptionID, instanceID string, exec ...core.DBExecutor) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM quota_usage_records WHERE subscription_id = $1 AND instance_id = $2)`
	var exists bool
	if err := repo.getExec(exec).QueryRow(query, subscriptionID, instanceID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "checking quota usage")
	}
	return exists, nil
}

func (repo bookingRepository) DeleteMemberUsage(memberID, instanceID string, exec ...core.DBExecutor) error {
	// key off the member, not the currently active subscription: the slot may
	// have been charged to a subscription that has since lapsed
	query := `
		DELETE FROM quota_usage_records q
		USING member_subscriptions s
		WHERE q.subscription_id = s.id AND s.member_id = $1 AND q.instance_id = $2`
	_, err := repo.getExec(exec).Exec(query, memberID, instanceID)
	return errors.Wrap(err, "deleting member quota usage")
}

func (repo bookingRepository) DeleteInstanceUsage(instanceID string, exec ...core.DBExecutor) error {
	_, err := repo.getExec(exec).Exec(`DELETE FROM quota_usage_records WHERE instance_id = $1`, instanceID)
	return errors.Wrap(err, "deleting instance quota usage")
}

func (repo bookingRepository) QueryWeekUsage(subscriptionID string, weekStart, weekEnd time.Time) ([]booking.QuotaUsage, error) {
	query := `
		SELECT q.id, q.subscription_id, q.instance_id, q.created_at
		FROM quota_usage_records q
		JOIN session_instances i ON i.id = q.instance_id
		WHERE q.subscription_id = $1 AND i.starts_at >= $2 AND i.starts_at < $3
		ORDER BY i.starts_at`
	rows, err := repo.db.Query(query, subscriptionID, weekStart, weekEnd)
	if err != nil {
		return nil, errors.Wrap(err, "querying week usage")
	}
	defer func() { _ = rows.Close() }()

	var usage []booking.QuotaUsage
	for rows.Next() {
		var u booking.QuotaUsage
		if err = rows.Scan(&u.ID, &u.SubscriptionID, &u.InstanceID, &u.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning quota usage")
		}
		usage = append(usage, u)
	}
	return usage, rows.Err()
}
