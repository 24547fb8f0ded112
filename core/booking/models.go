package booking

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/chama/core"
)

// Response is a member's attendance intent for one session instance.
type Response string

const (
	// ResponseNone is the initial state before any response is recorded.
	ResponseNone  Response = ""
	ResponseYes   Response = "yes"
	ResponseMaybe Response = "maybe"
	ResponseNo    Response = "no"
)

func (r Response) IsValid() bool {
	switch r {
	case ResponseYes, ResponseMaybe, ResponseNo:
		return true
	}
	return false
}

// Subscription statuses. Only active subscriptions back quota slots.
const (
	StatusActive    = "active"
	StatusPastDue   = "past_due"
	StatusCancelled = "cancelled"
)

// Subscription is a member's billing plan enrollment. Owned by the billing
// subsystem; read-only here.
type Subscription struct {
	ID       string `json:"id"`
	MemberID string `json:"member_id"`
	ClubID   string `json:"club_id"`
	PlanID   string `json:"plan_id"`
	Status   string `json:"status"`
	// WeeklyAllowance is the number of covered sessions per Monday-Sunday week.
	WeeklyAllowance int       `json:"weekly_allowance"`
	CreatedAt       time.Time `json:"created_at"` // UTC
	UpdatedAt       time.Time `json:"updated_at"` // UTC
}

// QuotaUsage records that a subscription's weekly allowance was charged for
// one session instance. (subscription, instance) is unique.
type QuotaUsage struct {
	ID             string    `json:"id"`
	SubscriptionID string    `json:"subscription_id"`
	InstanceID     string    `json:"instance_id"`
	CreatedAt      time.Time `json:"created_at"` // UTC
}

// Rsvp is the last recorded response of a person for an instance.
// Last write wins; no history is kept.
type Rsvp struct {
	PersonID   string   `json:"person_id"`
	InstanceID string   `json:"instance_id"`
	Response   Response `json:"response"`
	// FreeSession marks an attendance that must not draw from any quota.
	FreeSession bool      `json:"free_session"`
	CreatedAt   time.Time `json:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at"` // UTC
}

// Session is the slice of a session instance the RSVP machine needs. The
// schedule package owns the full record; this package only reads it.
type Session struct {
	ID          string
	ClubID      string
	StartsAt    time.Time // UTC
	Status      string
	PaymentMode string
}

// SetRsvp contains an attendance-intent change for one (person, instance).
type SetRsvp struct {
	PersonID    string   `json:"person_id" validate:"required"`
	Response    Response `json:"response" validate:"required,oneof=yes no maybe"`
	FreeSession bool     `json:"free_session"`
}

func (sr *SetRsvp) Validate(validate *validator.Validate) error {
	sr.PersonID = core.CleanString(sr.PersonID)
	return validate.Struct(sr)
}

// RsvpResult reports the recorded response and whether this attendance is
// covered by a subscription slot.
type RsvpResult struct {
	Response             Response `json:"response"`
	SubscriptionSlotUsed bool     `json:"subscription_slot_used"`
}

// WeekOf returns the Monday-Sunday week containing t, as the half-open UTC
// interval [start, end). Boundaries are computed on the UTC timestamp itself
// so local DST shifts cannot move an instance across weeks.
func WeekOf(t time.Time) (start, end time.Time) {
	u := t.UTC()
	back := (int(u.Weekday()) + 6) % 7 // days since Monday
	start = time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -back)
	return start, start.AddDate(0, 0, 7)
}
