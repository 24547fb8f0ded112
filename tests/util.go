package testutil

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/booking"
	"github.com/trezcool/chama/core/schedule"
)

// Logger is a quiet core.Logger for tests.
type Logger struct {
	std *log.Logger
}

var _ core.Logger = (*Logger)(nil)

func NewLogger() *Logger {
	return &Logger{std: log.New(io.Discard, "", 0)}
}

func (l Logger) Enable(bool) {}

func (l Logger) Debug(msg string, args ...interface{}) { l.std.Println(msg, args) }
func (l Logger) Info(msg string, args ...interface{})  { l.std.Println(msg, args) }
func (l Logger) Warn(msg string, args ...interface{})  { l.std.Println(msg, args) }
func (l Logger) Error(msg string, args ...interface{}) { l.std.Println(msg, args) }
func (l Logger) Fatal(msg string, args ...interface{}) { l.std.Println(msg, args) }

// NewConfig returns a deterministic config; no env vars, no .env files.
func NewConfig() *core.Config {
	return &core.Config{
		AppName:  "Chama",
		Env:      "TEST",
		TestMode: true,
		Timezone: "UTC",
		Schedule: core.ScheduleConfig{WindowWeeks: 4},
	}
}

// NewTemplate returns a valid weekly template; callers tweak what they need.
func NewTemplate(clubID string, days schedule.WeekdayMask, startDate time.Time) schedule.NewTemplate {
	return schedule.NewTemplate{
		ClubID:          clubID,
		Title:           "Weekly training",
		Weekdays:        days,
		StartTime:       schedule.TimeOfDay{Hour: 18, Minute: 30},
		DurationMinutes: 90,
		StartDate:       startDate,
		PaymentMode:     schedule.PaymentModePaid,
	}
}

// CreateTemplate creates a template through the service, failing the test on error.
func CreateTemplate(t *testing.T, svc *schedule.Service, nt schedule.NewTemplate) schedule.Template {
	t.Helper()
	tpl, err := svc.CreateTemplate(nt)
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}
	return tpl
}

// SubscriptionSeeder is implemented by repositories that can seed subscriptions.
type SubscriptionSeeder interface {
	CreateSubscription(sub booking.Subscription) booking.Subscription
}

// CreateSubscription seeds an active subscription with the given weekly allowance.
func CreateSubscription(t *testing.T, repo SubscriptionSeeder, memberID, clubID string, allowance int) booking.Subscription {
	t.Helper()
	return repo.CreateSubscription(booking.Subscription{
		MemberID:        memberID,
		ClubID:          clubID,
		PlanID:          "plan-standard",
		Status:          booking.StatusActive,
		WeeklyAllowance: allowance,
		CreatedAt:       time.Now().UTC(),
	})
}

// Date is shorthand for a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
