package schedule

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/chama/core"
)

var (
	// errors
	ErrInvalidRecurrence = errors.New("invalid recurrence definition")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrInstanceNotFound  = errors.New("session not found")
)

type (
	Repository interface {
		CreateTemplate(tpl Template) (Template, error)
		GetTemplateByID(id string) (Template, error)
		QueryTemplates(clubID string, ordering []core.DBOrdering) ([]Template, error)
		QueryActiveTemplates() ([]Template, error)
		UpdateTemplate(tpl Template, active *bool) (Template, error)

		// ExistingDates returns the calendar dates on or after `from` for which
		// a template-backed instance is already materialized.
		ExistingDates(templateID string, from time.Time) ([]time.Time, error)
		// CreateInstance persists a new instance. The bool is false when an
		// instance already exists for (template, date) - not an error.
		CreateInstance(inst Instance) (Instance, bool, error)
		GetInstanceByID(id string) (Instance, error)
		FilterInstances(filter InstanceFilter) ([]Instance, error)
		SetInstanceStatus(id, status string) error

		CreateStandingInvitation(inv StandingInvitation) (StandingInvitation, error)
		DeleteStandingInvitation(templateID, inviteeID string) error
		QueryStandingInvitations(templateID string) ([]StandingInvitation, error)
		QueryInstanceInvitations(instanceID string) ([]InstanceInvitation, error)
		// CopyStandingInvitations snapshots the template's standing list onto
		// the instance, skipping pairs that already exist.
		CopyStandingInvitations(templateID, instanceID string) error
	}

	Service struct {
		repo        Repository
		logger      core.Logger
		loc         *time.Location
		windowWeeks int
	}
)

func NewService(repo Repository, logger core.Logger, conf *core.Config) *Service {
	return &Service{
		repo:        repo,
		logger:      logger,
		loc:         conf.Location(),
		windowWeeks: conf.Schedule.WindowWeeks,
	}
}

func (svc *Service) CreateTemplate(nt NewTemplate) (Template, error) {
	now := time.Now().UTC()
	tpl := Template{
		ClubID:             nt.ClubID,
		Title:              nt.Title,
		Description:        nt.Description,
		Location:           nt.Location,
		Weekdays:           nt.Weekdays,
		StartTime:          nt.StartTime,
		DurationMinutes:    nt.DurationMinutes,
		StartDate:          DateOf(nt.StartDate),
		EndDate:            nt.EndDate,
		VisibilityLeadDays: nt.VisibilityLeadDays,
		FeeCents:           nt.FeeCents,
		Currency:           nt.Currency,
		PaymentMode:        nt.PaymentMode,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tpl.Validate(); err != nil {
		return Template{}, err
	}

	tpl, err := svc.repo.CreateTemplate(tpl)
	if err != nil {
		return Template{}, err
	}

	// materialize the initial rolling window right away; the periodic sweep
	// would catch up anyway, so a failure here is not fatal to the create
	if _, err = svc.generate(tpl, now, svc.windowWeeks, now); err != nil {
		svc.logger.Error(fmt.Sprintf("generating initial window for template %s: %v", tpl.ID, err), err)
	}
	return tpl, nil
}

func (svc *Service) GetTemplate(id string) (Template, error) {
	return svc.repo.GetTemplateByID(id)
}

func (svc *Service) QueryTemplates(clubID string, ordering []core.DBOrdering) ([]Template, error) {
	return svc.repo.QueryTemplates(core.CleanString(clubID), ordering)
}

func (svc *Service) UpdateTemplate(id string, ut UpdateTemplate) (Template, error) {
	orig, err := svc.repo.GetTemplateByID(id)
	if err != nil {
		return Template{}, err
	}

	tpl := orig
	if ut.Title != "" {
		tpl.Title = ut.Title
	}
	if ut.Description != nil {
		tpl.Description = core.CleanString(*ut.Description)
	}
	if ut.Location != nil {
		tpl.Location = core.CleanString(*ut.Location)
	}
	if ut.VisibilityLeadDays != nil {
		tpl.VisibilityLeadDays = *ut.VisibilityLeadDays
	}
	if ut.FeeCents != nil {
		tpl.FeeCents = *ut.FeeCents
	}
	if ut.PaymentMode != "" {
		tpl.PaymentMode = ut.PaymentMode
	}
	tpl.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateTemplate(tpl, ut.Active)
}

// Generate materializes the template's missing instances over the window
// starting at windowStart. `today` bounds generation so past dates are never
// backfilled; it is passed in explicitly to keep generation deterministic.
// Returns the number of instances actually created; repeat calls over
// overlapping windows are idempotent and report only genuinely new dates.
func (svc *Service) Generate(templateID string, windowStart time.Time, weeks int, today time.Time) (int, error) {
	tpl, err := svc.repo.GetTemplateByID(templateID)
	if err != nil {
		return 0, err
	}
	return svc.generate(tpl, windowStart, weeks, today)
}

// GenerateAll runs one rolling-window sweep over every active template.
// A failing template is logged and skipped so one bad definition cannot
// starve the rest of the sweep.
func (svc *Service) GenerateAll(today time.Time) (int, error) {
	tpls, err := svc.repo.QueryActiveTemplates()
	if err != nil {
		return 0, errors.Wrap(err, "querying active templates")
	}

	var total int
	for _, tpl := range tpls {
		n, err := svc.generate(tpl, today, svc.windowWeeks, today)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("generating sessions for template %s: %v", tpl.ID, err), err)
			continue
		}
		total += n
	}
	return total, nil
}

func (svc *Service) generate(tpl Template, windowStart time.Time, weeks int, today time.Time) (int, error) {
	if err := tpl.Validate(); err != nil {
		return 0, err
	}
	if weeks <= 0 {
		return 0, nil
	}

	// clamp the window: never create instances in the past, never past EndDate
	windowDate := DateOf(windowStart.In(svc.loc))
	effStart := windowDate
	if td := DateOf(today.In(svc.loc)); effStart.Before(td) {
		effStart = td
	}
	if sd := DateOf(tpl.StartDate); effStart.Before(sd) {
		effStart = sd
	}
	effEnd := windowDate.AddDate(0, 0, weeks*7-1)
	if tpl.EndDate.Valid {
		if ed := DateOf(tpl.EndDate.Time); ed.Before(effEnd) {
			effEnd = ed
		}
	}
	if effEnd.Before(effStart) {
		return 0, nil
	}

	// pre-read materialized dates; this is only a hint, the unique index on
	// (template, date) remains the authority under concurrent calls
	dates, err := svc.repo.ExistingDates(tpl.ID, effStart)
	if err != nil {
		return 0, errors.Wrap(err, "loading existing session dates")
	}
	existing := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		existing[DateKey(d)] = struct{}{}
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: asRRuleWeekdays(tpl.Weekdays),
		Dtstart:   tpl.StartTime.On(effStart, svc.loc),
		Until:     tpl.StartTime.On(effEnd, svc.loc),
	})
	if err != nil {
		return 0, errors.Wrap(err, "building recurrence rule")
	}

	var created int
	for _, occ := range rule.All() {
		if _, ok := existing[DateKey(occ)]; ok {
			continue
		}

		startsAt := occ.UTC()
		inst := Instance{
			TemplateID:  null.StringFrom(tpl.ID),
			ClubID:      tpl.ClubID,
			Title:       tpl.Title,
			Description: tpl.Description,
			Location:    tpl.Location,
			OccursOn:    time.Date(occ.Year(), occ.Month(), occ.Day(), 0, 0, 0, 0, time.UTC),
			StartsAt:    startsAt,
			EndsAt:      startsAt.Add(tpl.Duration()),
			VisibleFrom: startsAt.AddDate(0, 0, -tpl.VisibilityLeadDays),
			Status:      StatusScheduled,
			FeeCents:    tpl.FeeCents,
			Currency:    tpl.Currency,
			PaymentMode: tpl.PaymentMode,
		}

		inst, ok, err := svc.repo.CreateInstance(inst)
		if err != nil {
			return created, errors.Wrap(err, "creating session instance")
		}
		if !ok {
			// lost a race with a concurrent generation call; benign skip
			continue
		}
		created++

		// a failed copy leaves a valid instance behind; invitations can be
		// added manually, so log and move on
		if err = svc.repo.CopyStandingInvitations(tpl.ID, inst.ID); err != nil {
			svc.logger.Error(fmt.Sprintf("propagating invitations to session %s: %v", inst.ID, err), err)
		}
	}
	return created, nil
}

func (svc *Service) GetInstance(id string) (Instance, error) {
	return svc.repo.GetInstanceByID(id)
}

func (svc *Service) FilterInstances(filter InstanceFilter) ([]Instance, error) {
	return svc.repo.FilterInstances(filter)
}

// CancelInstance flips the instance to cancelled; the row is kept.
// Callers owning the cancellation path must also release any quota usage
// recorded against the instance.
func (svc *Service) CancelInstance(id string) error {
	return svc.repo.SetInstanceStatus(id, StatusCancelled)
}

func (svc *Service) AddInvitation(templateID string, ni NewStandingInvitation) (StandingInvitation, error) {
	if _, err := svc.repo.GetTemplateByID(templateID); err != nil {
		return StandingInvitation{}, err
	}
	inv := StandingInvitation{
		TemplateID:  templateID,
		InviteeID:   ni.InviteeID,
		InviteeKind: ni.InviteeKind,
		CreatedAt:   time.Now().UTC(),
	}
	return svc.repo.CreateStandingInvitation(inv)
}

func (svc *Service) RemoveInvitation(templateID, inviteeID string) error {
	return svc.repo.DeleteStandingInvitation(templateID, inviteeID)
}

func (svc *Service) QueryInvitations(templateID string) ([]StandingInvitation, error) {
	return svc.repo.QueryStandingInvitations(templateID)
}

func (svc *Service) QueryInstanceInvitations(instanceID string) ([]InstanceInvitation, error) {
	return svc.repo.QueryInstanceInvitations(instanceID)
}

var rruleWeekdays = [7]rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

func asRRuleWeekdays(m WeekdayMask) []rrule.Weekday {
	days := m.Weekdays()
	out := make([]rrule.Weekday, 0, len(days))
	for _, d := range days {
		out = append(out, rruleWeekdays[d])
	}
	return out
}
