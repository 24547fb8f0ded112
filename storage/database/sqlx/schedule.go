package sqlxrepos

import (
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/schedule"
	"github.com/trezcool/chama/storage/database"
)

type scheduleRepository struct {
	db database.DB
}

var _ schedule.Repository = (*scheduleRepository)(nil) // interface compliance check

func NewScheduleRepository(db database.DB) *scheduleRepository {
	return &scheduleRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const templateColumns = `id, club_id, title, description, location, weekday_mask, start_time,
	duration_minutes, start_date, end_date, visibility_lead_days, fee_cents, currency,
	payment_mode, active, created_at, updated_at`

func scanTemplate(row rowScanner) (schedule.Template, error) {
	var (
		tpl  schedule.Template
		mask int16
	)
	err := row.Scan(
		&tpl.ID, &tpl.ClubID, &tpl.Title, &tpl.Description, &tpl.Location, &mask, &tpl.StartTime,
		&tpl.DurationMinutes, &tpl.StartDate, &tpl.EndDate, &tpl.VisibilityLeadDays, &tpl.FeeCents,
		&tpl.Currency, &tpl.PaymentMode, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		return schedule.Template{}, err
	}
	tpl.Weekdays = schedule.WeekdayMask(mask)
	return tpl, nil
}

func (repo scheduleRepository) CreateTemplate(tpl schedule.Template) (schedule.Template, error) {
	tpl.ID = uuid.New().String()
	query := `
		INSERT INTO recurrence_templates
			(id, club_id, title, description, location, weekday_mask, start_time, duration_minutes,
			 start_date, end_date, visibility_lead_days, fee_cents, currency, payment_mode, active,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`
	_, err := repo.db.Exec(query,
		tpl.ID, tpl.ClubID, tpl.Title, tpl.Description, tpl.Location, int16(tpl.Weekdays),
		tpl.StartTime, tpl.DurationMinutes, tpl.StartDate, tpl.EndDate, tpl.VisibilityLeadDays,
		tpl.FeeCents, tpl.Currency, tpl.PaymentMode, tpl.Active, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return schedule.Template{}, errors.Wrap(err, "inserting template")
	}
	return tpl, nil
}

func (repo scheduleRepository) GetTemplateByID(id string) (schedule.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM recurrence_templates WHERE id = $1`
	tpl, err := scanTemplate(repo.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return schedule.Template{}, schedule.ErrTemplateNotFound
		}
		return schedule.Template{}, errors.Wrap(err, "getting template")
	}
	return tpl, nil
}

func (repo scheduleRepository) queryTemplates(query string, args ...interface{}) ([]schedule.Template, error) {
	rows, err := repo.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying templates")
	}
	defer func() { _ = rows.Close() }()

	var tpls []schedule.Template
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning template")
		}
		tpls = append(tpls, tpl)
	}
	return tpls, rows.Err()
}

// columns template listings may be ordered by; anything else falls back to created_at.
var sortableTemplateColumns = map[string]struct{}{
	"title":      {},
	"start_date": {},
	"created_at": {},
	"updated_at": {},
}

func (repo scheduleRepository) QueryTemplates(clubID string, ordering []core.DBOrdering) ([]schedule.Template, error) {
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		if _, ok := sortableTemplateColumns[ord.Field]; ok {
			orderList = append(orderList, ord.String())
		}
	}
	if len(orderList) == 0 {
		orderList = append(orderList, "created_at")
	}

	query := `SELECT ` + templateColumns + ` FROM recurrence_templates`
	if clubID != "" {
		return repo.queryTemplates(query+` WHERE club_id = $1 ORDER BY `+strings.Join(orderList, ", "), clubID)
	}
	return repo.queryTemplates(query + ` ORDER BY ` + strings.Join(orderList, ", "))
}

func (repo scheduleRepository) QueryActiveTemplates() ([]schedule.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM recurrence_templates WHERE active = TRUE ORDER BY created_at`
	return repo.queryTemplates(query)
}

func (repo scheduleRepository) UpdateTemplate(tpl schedule.Template, active *bool) (schedule.Template, error) {
	query := `
		UPDATE recurrence_templates
		SET title = $2, description = $3, location = $4, visibility_lead_days = $5,
			fee_cents = $6, payment_mode = $7, active = COALESCE($8, active), updated_at = $9
		WHERE id = $1`
	res, err := repo.db.Exec(query,
		tpl.ID, tpl.Title, tpl.Description, tpl.Location, tpl.VisibilityLeadDays,
		tpl.FeeCents, tpl.PaymentMode, null.BoolFromPtr(active), tpl.UpdatedAt,
	)
	if err != nil {
		return schedule.Template{}, errors.Wrap(err, "updating template")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.Template{}, schedule.ErrTemplateNotFound
	}
	return repo.GetTemplateByID(tpl.ID)
}

func (repo scheduleRepository) ExistingDates(templateID string, from time.Time) ([]time.Time, error) {
	query := `SELECT occurs_on FROM session_instances WHERE template_id = $1 AND occurs_on >= $2`
	rows, err := repo.db.Query(query, templateID, schedule.DateOf(from))
	if err != nil {
		return nil, errors.Wrap(err, "querying existing dates")
	}
	defer func() { _ = rows.Close() }()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err = rows.Scan(&d); err != nil {
			return nil, errors.Wrap(err, "scanning date")
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

const instanceColumns = `id, template_id, club_id, title, description, location, occurs_on,
	starts_at, ends_at, visible_from, status, fee_cents, currency, payment_mode, created_at, updated_at`

func scanInstance(row rowScanner) (schedule.Instance, error) {
	var inst schedule.Instance
	err := row.Scan(
		&inst.ID, &inst.TemplateID, &inst.ClubID, &inst.Title, &inst.Description, &inst.Location,
		&inst.OccursOn, &inst.StartsAt, &inst.EndsAt, &inst.VisibleFrom, &inst.Status,
		&inst.FeeCents, &inst.Currency, &inst.PaymentMode, &inst.CreatedAt, &inst.UpdatedAt,
	)
	return inst, err
}

func (repo scheduleRepository) CreateInstance(inst schedule.Instance) (schedule.Instance, bool, error) {
	inst.ID = uuid.New().String()
	now := time.Now().UTC()
	inst.CreatedAt, inst.UpdatedAt = now, now

	// the unique constraint is the authoritative duplicate guard; a conflict
	// means another call materialized this date first
	query := `
		INSERT INTO session_instances
			(id, template_id, club_id, title, description, location, occurs_on, starts_at, ends_at,
			 visible_from, status, fee_cents, currency, payment_mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT ON CONSTRAINT session_instances_template_date_key DO NOTHING`
	res, err := repo.db.Exec(query,
		inst.ID, inst.TemplateID, inst.ClubID, inst.Title, inst.Description, inst.Location,
		inst.OccursOn, inst.StartsAt, inst.EndsAt, inst.VisibleFrom, inst.Status,
		inst.FeeCents, inst.Currency, inst.PaymentMode, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schedule.Instance{}, false, nil
		}
		return schedule.Instance{}, false, errors.Wrap(err, "inserting instance")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.Instance{}, false, nil
	}
	return inst, true, nil
}

func (repo scheduleRepository) GetInstanceByID(id string) (schedule.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM session_instances WHERE id = $1`
	inst, err := scanInstance(repo.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return schedule.Instance{}, schedule.ErrInstanceNotFound
		}
		return schedule.Instance{}, errors.Wrap(err, "getting instance")
	}
	return inst, nil
}

func (repo scheduleRepository) FilterInstances(filter schedule.InstanceFilter) ([]schedule.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM session_instances WHERE 1=1`
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.ClubID != "" {
		query += ` AND club_id = ` + arg(filter.ClubID)
	}
	if !filter.From.IsZero() {
		query += ` AND starts_at >= ` + arg(filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND starts_at < ` + arg(filter.To)
	}
	if !filter.VisibleAt.IsZero() {
		query += ` AND visible_from <= ` + arg(filter.VisibleAt)
	}
	query += ` ORDER BY starts_at`

	rows, err := repo.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying instances")
	}
	defer func() { _ = rows.Close() }()

	var insts []schedule.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning instance")
		}
		insts = append(insts, inst)
	}
	return insts, rows.Err()
}

func (repo scheduleRepository) SetInstanceStatus(id, status string) error {
	res, err := repo.db.Exec(
		`UPDATE session_instances SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "updating instance status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schedule.ErrInstanceNotFound
	}
	return nil
}

func (repo scheduleRepository) CreateStandingInvitation(inv schedule.StandingInvitation) (schedule.StandingInvitation, error) {
	inv.ID = uuid.New().String()
	query := `
		INSERT INTO standing_invitations (id, template_id, invitee_id, invitee_kind, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT standing_invitations_key DO NOTHING`
	if _, err := repo.db.Exec(query, inv.ID, inv.TemplateID, inv.InviteeID, inv.InviteeKind, inv.CreatedAt); err != nil {
		return schedule.StandingInvitation{}, errors.Wrap(err, "inserting standing invitation")
	}
	return inv, nil
}

func (repo scheduleRepository) DeleteStandingInvitation(templateID, inviteeID string) error {
	_, err := repo.db.Exec(
		`DELETE FROM standing_invitations WHERE template_id = $1 AND invitee_id = $2`,
		templateID, inviteeID,
	)
	return errors.Wrap(err, "deleting standing invitation")
}

func (repo scheduleRepository) QueryStandingInvitations(templateID string) ([]schedule.StandingInvitation, error) {
	query := `
		SELECT id, template_id, invitee_id, invitee_kind, created_at
		FROM standing_invitations WHERE template_id = $1 ORDER BY created_at`
	rows, err := repo.db.Query(query, templateID)
	if err != nil {
		return nil, errors.Wrap(err, "querying standing invitations")
	}
	defer func() { _ = rows.Close() }()

	var invs []schedule.StandingInvitation
	for rows.Next() {
		var inv schedule.StandingInvitation
		if err = rows.Scan(&inv.ID, &inv.TemplateID, &inv.InviteeID, &inv.InviteeKind, &inv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning standing invitation")
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

func (repo scheduleRepository) QueryInstanceInvitations(instanceID string) ([]schedule.InstanceInvitation, error) {
	query := `
		SELECT id, instance_id, invitee_id, invitee_kind, created_at
		FROM instance_invitations WHERE instance_id = $1 ORDER BY created_at`
	rows, err := repo.db.Query(query, instanceID)
	if err != nil {
		return nil, errors.Wrap(err, "querying instance invitations")
	}
	defer func() { _ = rows.Close() }()

	var invs []schedule.InstanceInvitation
	for rows.Next() {
		var inv schedule.InstanceInvitation
		if err = rows.Scan(&inv.ID, &inv.InstanceID, &inv.InviteeID, &inv.InviteeKind, &inv.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning instance invitation")
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

func (repo scheduleRepository) CopyStandingInvitations(templateID, instanceID string) error {
	// set-based snapshot copy; safe to re-run thanks to the unique key
	query := `
		INSERT INTO instance_invitations (id, instance_id, invitee_id, invitee_kind, created_at)
		SELECT gen_random_uuid(), $1, invitee_id, invitee_kind, now()
		FROM standing_invitations WHERE template_id = $2
		ON CONFLICT ON CONSTRAINT instance_invitations_key DO NOTHING`
	_, err := repo.db.Exec(query, instanceID, templateID)
	return errors.Wrap(err, "copying standing invitations")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
