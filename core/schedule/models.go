package schedule

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/chama/core"
)

// WeekdayMask is a 7-bit set of weekdays a template recurs on.
// Bit i corresponds to time.Weekday(i), i.e. bit 0 is Sunday.
type WeekdayMask uint8

const WeekdayMaskAll WeekdayMask = 1<<7 - 1

func NewWeekdayMask(days ...time.Weekday) WeekdayMask {
	var m WeekdayMask
	for _, d := range days {
		m |= 1 << uint(d)
	}
	return m
}

func (m WeekdayMask) Has(d time.Weekday) bool {
	return m&(1<<uint(d)) != 0
}

func (m WeekdayMask) Weekdays() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if m.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

func (m WeekdayMask) IsValid() bool {
	return m != 0 && m <= WeekdayMaskAll
}

// TimeOfDay is a wall-clock hour:minute in the club's configured zone.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		// TIME columns come back with seconds
		if t, err = time.Parse("15:04:05", s); err != nil {
			return TimeOfDay{}, errors.Wrapf(err, "parsing time of day %q", s)
		}
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) IsValid() bool {
	return t.Hour >= 0 && t.Hour < 24 && t.Minute >= 0 && t.Minute < 60
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On anchors the time of day on the given calendar date in loc.
func (t TimeOfDay) On(date time.Time, loc *time.Location) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour, t.Minute, 0, 0, loc)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = tod
	return nil
}

// Value implements driver.Valuer so TimeOfDay maps to a TIME column.
func (t TimeOfDay) Value() (driver.Value, error) {
	return fmt.Sprintf("%02d:%02d:00", t.Hour, t.Minute), nil
}

// Scan implements sql.Scanner.
func (t *TimeOfDay) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = TimeOfDay{Hour: v.Hour(), Minute: v.Minute()}
		return nil
	case []byte:
		tod, err := ParseTimeOfDay(string(v))
		if err != nil {
			return err
		}
		*t = tod
		return nil
	case string:
		tod, err := ParseTimeOfDay(v)
		if err != nil {
			return err
		}
		*t = tod
		return nil
	default:
		return errors.Errorf("cannot scan %T into TimeOfDay", src)
	}
}

// Payment modes inherited by instances at generation time.
const (
	PaymentModeFree = "free"
	PaymentModePaid = "paid"
)

// Instance statuses.
const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
)

// Invitee kinds on standing/instance invitations.
const (
	InviteePerson = "person"
	InviteeGroup  = "group"
)

// Template is a weekly recurrence definition sessions are generated from.
type Template struct {
	ID          string `json:"id"`
	ClubID      string `json:"club_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`

	Weekdays        WeekdayMask `json:"weekday_mask"`
	StartTime       TimeOfDay   `json:"start_time"`
	DurationMinutes int         `json:"duration_minutes"`
	StartDate       time.Time   `json:"start_date"`         // calendar date
	EndDate         null.Time   `json:"end_date,omitempty"` // inclusive; open-ended when unset

	VisibilityLeadDays int    `json:"visibility_lead_days"`
	FeeCents           int64  `json:"fee_cents"`
	Currency           string `json:"currency"`
	PaymentMode        string `json:"payment_mode"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// Validate checks the template invariants that gate generation.
func (t *Template) Validate() error {
	var flds []core.FieldError
	if !t.Weekdays.IsValid() {
		flds = append(flds, core.FieldError{Field: "weekday_mask", Error: "at least one weekday is required"})
	}
	if !t.StartTime.IsValid() {
		flds = append(flds, core.FieldError{Field: "start_time", Error: "invalid time of day"})
	}
	if t.DurationMinutes <= 0 {
		flds = append(flds, core.FieldError{Field: "duration_minutes", Error: "duration must be positive"})
	}
	if t.StartDate.IsZero() {
		flds = append(flds, core.FieldError{Field: "start_date", Error: "this field is required"})
	}
	if t.EndDate.Valid && DateOf(t.EndDate.Time).Before(DateOf(t.StartDate)) {
		flds = append(flds, core.FieldError{Field: "end_date", Error: "end date cannot precede start date"})
	}
	if t.VisibilityLeadDays < 0 {
		flds = append(flds, core.FieldError{Field: "visibility_lead_days", Error: "lead days cannot be negative"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(ErrInvalidRecurrence, flds...)
	}
	return nil
}

// MatchesWeekday reports whether the template recurs on the given date's weekday.
func (t *Template) MatchesWeekday(date time.Time) bool {
	return t.Weekdays.Has(date.Weekday())
}

// Duration returns the session length.
func (t *Template) Duration() time.Duration {
	return time.Duration(t.DurationMinutes) * time.Minute
}

// Instance is a single concrete occurrence of a session.
type Instance struct {
	ID         string      `json:"id"`
	TemplateID null.String `json:"template_id,omitempty"` // unset for ad-hoc sessions
	ClubID     string      `json:"club_id"`

	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`

	// OccursOn is the calendar date key upholding the one-instance-per-
	// template-per-date invariant.
	OccursOn    time.Time `json:"occurs_on"`
	StartsAt    time.Time `json:"starts_at"`    // UTC, fixed at creation
	EndsAt      time.Time `json:"ends_at"`      // UTC, fixed at creation
	VisibleFrom time.Time `json:"visible_from"` // UTC

	Status      string `json:"status"`
	FeeCents    int64  `json:"fee_cents"`
	Currency    string `json:"currency"`
	PaymentMode string `json:"payment_mode"`

	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

func (i *Instance) IsCancelled() bool { return i.Status == StatusCancelled }

// StandingInvitation pre-invites a person or group to every future instance
// of a template. It is copied, not referenced, onto generated instances.
type StandingInvitation struct {
	ID          string    `json:"id"`
	TemplateID  string    `json:"template_id"`
	InviteeID   string    `json:"invitee_id"`
	InviteeKind string    `json:"invitee_kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// InstanceInvitation is a standing invitation snapshotted onto one instance.
type InstanceInvitation struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	InviteeID   string    `json:"invitee_id"`
	InviteeKind string    `json:"invitee_kind"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTemplate contains information needed to create a Template.
type NewTemplate struct {
	ClubID      string `json:"club_id" validate:"required"`
	Title       string `json:"title" validate:"required"`
	Description string `json:"description"`
	Location    string `json:"location"`

	Weekdays        WeekdayMask `json:"weekday_mask" validate:"weekdaymask"`
	StartTime       TimeOfDay   `json:"start_time"`
	DurationMinutes int         `json:"duration_minutes" validate:"gt=0"`
	StartDate       time.Time   `json:"start_date" validate:"required"`
	EndDate         null.Time   `json:"end_date"`

	VisibilityLeadDays int    `json:"visibility_lead_days" validate:"gte=0"`
	FeeCents           int64  `json:"fee_cents" validate:"gte=0"`
	Currency           string `json:"currency"`
	PaymentMode        string `json:"payment_mode" validate:"omitempty,oneof=free paid"`
}

func (nt *NewTemplate) Validate(validate *validator.Validate) error {
	nt.Title = core.CleanString(nt.Title)
	nt.Description = core.CleanString(nt.Description)
	nt.Location = core.CleanString(nt.Location)
	nt.Currency = core.CleanString(nt.Currency, true /* lower */)
	if nt.PaymentMode == "" {
		nt.PaymentMode = PaymentModePaid
	}
	if err := validate.Struct(nt); err != nil {
		return err
	}
	if nt.EndDate.Valid && DateOf(nt.EndDate.Time).Before(DateOf(nt.StartDate)) {
		return core.NewValidationError(
			ErrInvalidRecurrence,
			core.FieldError{Field: "end_date", Error: "end date cannot precede start date"},
		)
	}
	if !nt.StartTime.IsValid() {
		return core.NewValidationError(
			ErrInvalidRecurrence,
			core.FieldError{Field: "start_time", Error: "invalid time of day"},
		)
	}
	return nil
}

// UpdateTemplate defines the default attributes that may be modified on an
// existing Template. Changes never retroactively alter generated instances.
type UpdateTemplate struct {
	Title              string  `json:"title"`
	Description        *string `json:"description"`
	Location           *string `json:"location"`
	VisibilityLeadDays *int    `json:"visibility_lead_days" validate:"omitempty,gte=0"`
	FeeCents           *int64  `json:"fee_cents" validate:"omitempty,gte=0"`
	PaymentMode        string  `json:"payment_mode" validate:"omitempty,oneof=free paid"`
	Active             *bool   `json:"active"`
}

func (ut *UpdateTemplate) Validate(validate *validator.Validate) error {
	ut.Title = core.CleanString(ut.Title)
	return validate.Struct(ut)
}

// NewStandingInvitation contains information needed to pre-invite someone.
type NewStandingInvitation struct {
	InviteeID   string `json:"invitee_id" validate:"required"`
	InviteeKind string `json:"invitee_kind" validate:"required,oneof=person group"`
}

func (ni *NewStandingInvitation) Validate(validate *validator.Validate) error {
	ni.InviteeID = core.CleanString(ni.InviteeID)
	return validate.Struct(ni)
}

// InstanceFilter narrows instance queries for the member-facing listing.
type InstanceFilter struct {
	ClubID string    `query:"club_id"`
	From   time.Time `query:"from"`
	To     time.Time `query:"to"`
	// VisibleAt hides instances whose visibility window has not opened yet.
	VisibleAt time.Time
}

// DateOf truncates t to its calendar date, preserving the location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DateKey returns the canonical map key for a calendar date.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
