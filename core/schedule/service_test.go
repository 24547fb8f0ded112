package schedule_test

import (
	"testing"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/chama/core/schedule"
	inmemdb "github.com/trezcool/chama/storage/database/inmem"
	testutil "github.com/trezcool/chama/tests"
)

func setup(t *testing.T) (*schedule.Service, schedule.Repository) {
	t.Helper()
	repo := inmemdb.NewScheduleRepository(inmemdb.NewDB())
	svc := schedule.NewService(repo, testutil.NewLogger(), testutil.NewConfig())
	return svc, repo
}

// seedTemplate persists a template directly so generation can be driven with
// explicit dates instead of the wall clock.
func seedTemplate(t *testing.T, repo schedule.Repository, tpl schedule.Template) schedule.Template {
	t.Helper()
	tpl.Active = true
	if tpl.PaymentMode == "" {
		tpl.PaymentMode = schedule.PaymentModePaid
	}
	tpl, err := repo.CreateTemplate(tpl)
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}
	return tpl
}

func weeklyTemplate() schedule.Template {
	return schedule.Template{
		ClubID:             "club1",
		Title:              "Weekly training",
		Weekdays:           schedule.NewWeekdayMask(time.Tuesday, time.Thursday),
		StartTime:          schedule.TimeOfDay{Hour: 18, Minute: 30},
		DurationMinutes:    90,
		StartDate:          testutil.Date(2026, time.March, 2), // a Monday
		VisibilityLeadDays: 5,
	}
}

func TestService_Generate(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())

	today := testutil.Date(2026, time.March, 1)
	created, err := svc.Generate(tpl.ID, tpl.StartDate, 2, today)
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if created != 4 {
		t.Fatalf("Generate() created = %d, want 4", created)
	}

	insts, err := svc.FilterInstances(schedule.InstanceFilter{ClubID: "club1"})
	if err != nil {
		t.Fatalf("FilterInstances() failed: %v", err)
	}
	wantDates := []time.Time{
		testutil.Date(2026, time.March, 3),
		testutil.Date(2026, time.March, 5),
		testutil.Date(2026, time.March, 10),
		testutil.Date(2026, time.March, 12),
	}
	if len(insts) != len(wantDates) {
		t.Fatalf("got %d instances, want %d", len(insts), len(wantDates))
	}
	for i, inst := range insts {
		if !inst.OccursOn.Equal(wantDates[i]) {
			t.Errorf("instance %d occurs on %v, want %v", i, inst.OccursOn, wantDates[i])
		}
		wantStart := wantDates[i].Add(18*time.Hour + 30*time.Minute)
		if !inst.StartsAt.Equal(wantStart) {
			t.Errorf("instance %d starts at %v, want %v", i, inst.StartsAt, wantStart)
		}
		if !inst.EndsAt.Equal(wantStart.Add(90 * time.Minute)) {
			t.Errorf("instance %d ends at %v, want %v", i, inst.EndsAt, wantStart.Add(90*time.Minute))
		}
		if !inst.VisibleFrom.Equal(wantStart.AddDate(0, 0, -5)) {
			t.Errorf("instance %d visible from %v, want %v", i, inst.VisibleFrom, wantStart.AddDate(0, 0, -5))
		}
		if inst.Status != schedule.StatusScheduled {
			t.Errorf("instance %d status = %s, want %s", i, inst.Status, schedule.StatusScheduled)
		}
		if inst.TemplateID.String != tpl.ID {
			t.Errorf("instance %d template = %s, want %s", i, inst.TemplateID.String, tpl.ID)
		}
	}
}

func TestService_Generate_idempotent(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())
	today := testutil.Date(2026, time.March, 1)

	if created, err := svc.Generate(tpl.ID, tpl.StartDate, 2, today); err != nil || created != 4 {
		t.Fatalf("first Generate() = (%d, %v), want (4, nil)", created, err)
	}

	// repeat call over the same window reports nothing new
	created, err := svc.Generate(tpl.ID, tpl.StartDate, 2, today)
	if err != nil {
		t.Fatalf("second Generate() failed: %v", err)
	}
	if created != 0 {
		t.Errorf("second Generate() created = %d, want 0", created)
	}

	// widening the window only reports the genuinely new dates
	created, err = svc.Generate(tpl.ID, tpl.StartDate, 4, today)
	if err != nil {
		t.Fatalf("widened Generate() failed: %v", err)
	}
	if created != 4 {
		t.Errorf("widened Generate() created = %d, want 4", created)
	}
}

func TestService_Generate_noBackfill(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())

	// the whole window is in the past
	created, err := svc.Generate(tpl.ID, tpl.StartDate, 2, testutil.Date(2026, time.April, 1))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if created != 0 {
		t.Errorf("Generate() created = %d, want 0", created)
	}

	// today inside the window: only dates from today on materialize
	created, err = svc.Generate(tpl.ID, tpl.StartDate, 2, testutil.Date(2026, time.March, 9))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if created != 2 { // Mar 10 & 12 only
		t.Errorf("Generate() created = %d, want 2", created)
	}
}

func TestService_Generate_endDateClamp(t *testing.T) {
	svc, repo := setup(t)
	tpl := weeklyTemplate()
	tpl.EndDate = null.TimeFrom(testutil.Date(2026, time.March, 5))
	seeded := seedTemplate(t, repo, tpl)

	created, err := svc.Generate(seeded.ID, seeded.StartDate, 4, testutil.Date(2026, time.March, 1))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if created != 2 { // Mar 3 & 5; the series ends there
		t.Errorf("Generate() created = %d, want 2", created)
	}
}

func TestService_Generate_invalidTemplate(t *testing.T) {
	svc, repo := setup(t)
	tpl := weeklyTemplate()
	tpl.Weekdays = 0
	seeded := seedTemplate(t, repo, tpl)

	if _, err := svc.Generate(seeded.ID, seeded.StartDate, 2, testutil.Date(2026, time.March, 1)); err == nil {
		t.Error("Generate() succeeded with an invalid recurrence")
	}

	if _, err := svc.Generate("lol", testutil.Date(2026, time.March, 2), 2, testutil.Date(2026, time.March, 1)); err != schedule.ErrTemplateNotFound {
		t.Errorf("Generate() error = %v, want %v", err, schedule.ErrTemplateNotFound)
	}
}

func TestService_Generate_invitationPropagation(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())

	for _, inv := range []schedule.NewStandingInvitation{
		{InviteeID: "alice", InviteeKind: schedule.InviteePerson},
		{InviteeID: "beginners", InviteeKind: schedule.InviteeGroup},
	} {
		if _, err := svc.AddInvitation(tpl.ID, inv); err != nil {
			t.Fatalf("AddInvitation() failed: %v", err)
		}
	}

	if _, err := svc.Generate(tpl.ID, tpl.StartDate, 1, testutil.Date(2026, time.March, 1)); err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	insts, err := svc.FilterInstances(schedule.InstanceFilter{ClubID: "club1"})
	if err != nil {
		t.Fatalf("FilterInstances() failed: %v", err)
	}
	if len(insts) == 0 {
		t.Fatal("no instances generated")
	}
	for _, inst := range insts {
		invs, err := svc.QueryInstanceInvitations(inst.ID)
		if err != nil {
			t.Fatalf("QueryInstanceInvitations() failed: %v", err)
		}
		if len(invs) != 2 {
			t.Errorf("instance %s has %d invitations, want 2", inst.ID, len(invs))
		}
	}

	// invitations added after generation do not touch existing instances
	if _, err = svc.AddInvitation(tpl.ID, schedule.NewStandingInvitation{
		InviteeID: "carol", InviteeKind: schedule.InviteePerson,
	}); err != nil {
		t.Fatalf("AddInvitation() failed: %v", err)
	}
	invs, err := svc.QueryInstanceInvitations(insts[0].ID)
	if err != nil {
		t.Fatalf("QueryInstanceInvitations() failed: %v", err)
	}
	if len(invs) != 2 {
		t.Errorf("instance has %d invitations after late add, want 2", len(invs))
	}
}

func TestService_GenerateAll(t *testing.T) {
	svc, repo := setup(t)

	good := seedTemplate(t, repo, weeklyTemplate())

	bad := weeklyTemplate()
	bad.Weekdays = 0
	seedTemplate(t, repo, bad)

	inactive := weeklyTemplate()
	inactive.StartDate = testutil.Date(2026, time.March, 2)
	tpl, err := repo.CreateTemplate(inactive) // Active left false
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}

	today := good.StartDate
	created, err := svc.GenerateAll(today)
	if err != nil {
		t.Fatalf("GenerateAll() failed: %v", err)
	}
	// 4 weeks x Tue & Thu from the good template; the bad one is skipped,
	// the inactive one untouched
	if created != 8 {
		t.Errorf("GenerateAll() created = %d, want 8", created)
	}

	dates, err := repo.ExistingDates(tpl.ID, today)
	if err != nil {
		t.Fatalf("ExistingDates() failed: %v", err)
	}
	if len(dates) != 0 {
		t.Errorf("inactive template has %d instances, want 0", len(dates))
	}
}

func TestService_CancelInstance(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())

	if _, err := svc.Generate(tpl.ID, tpl.StartDate, 1, testutil.Date(2026, time.March, 1)); err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	insts, err := svc.FilterInstances(schedule.InstanceFilter{ClubID: "club1"})
	if err != nil {
		t.Fatalf("FilterInstances() failed: %v", err)
	}

	if err = svc.CancelInstance(insts[0].ID); err != nil {
		t.Fatalf("CancelInstance() failed: %v", err)
	}
	inst, err := svc.GetInstance(insts[0].ID)
	if err != nil {
		t.Fatalf("GetInstance() failed: %v", err)
	}
	if !inst.IsCancelled() {
		t.Errorf("instance status = %s, want %s", inst.Status, schedule.StatusCancelled)
	}

	// cancellation keeps the date occupied: regenerating must not resurrect it
	created, err := svc.Generate(tpl.ID, tpl.StartDate, 1, testutil.Date(2026, time.March, 1))
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if created != 0 {
		t.Errorf("Generate() created = %d after cancellation, want 0", created)
	}

	if err = svc.CancelInstance("lol"); err != schedule.ErrInstanceNotFound {
		t.Errorf("CancelInstance() error = %v, want %v", err, schedule.ErrInstanceNotFound)
	}
}

func TestService_FilterInstances_visibility(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())

	if _, err := svc.Generate(tpl.ID, tpl.StartDate, 2, testutil.Date(2026, time.March, 1)); err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	// lead is 5 days; Mar 3 & 5 18:30 sessions are visible on Mar 1,
	// the second week is not yet
	visible, err := svc.FilterInstances(schedule.InstanceFilter{
		ClubID:    "club1",
		VisibleAt: testutil.Date(2026, time.March, 1).Add(19 * time.Hour),
	})
	if err != nil {
		t.Fatalf("FilterInstances() failed: %v", err)
	}
	if len(visible) != 2 {
		t.Errorf("got %d visible instances, want 2", len(visible))
	}

	// a session becomes visible exactly lead days before its start
	boundary := testutil.Date(2026, time.March, 5).Add(18*time.Hour + 30*time.Minute)
	visible, err = svc.FilterInstances(schedule.InstanceFilter{ClubID: "club1", VisibleAt: boundary})
	if err != nil {
		t.Fatalf("FilterInstances() failed: %v", err)
	}
	if len(visible) != 3 { // Mar 10's window opened at Mar 5 18:30
		t.Errorf("got %d visible instances at boundary, want 3", len(visible))
	}
}

func TestService_CreateTemplate(t *testing.T) {
	svc, _ := setup(t)

	startDate := time.Now().UTC().AddDate(0, 0, 1)
	nt := testutil.NewTemplate("club1", schedule.NewWeekdayMask(startDate.Weekday()), startDate)

	tpl, err := svc.CreateTemplate(nt)
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}
	if !tpl.Active {
		t.Error("new template is not active")
	}

	// the initial rolling window is materialized right away
	insts, err := svc.FilterInstances(schedule.InstanceFilter{ClubID: "club1"})
	if err != nil {
		t.Fatalf("FilterInstances() failed: %v", err)
	}
	if len(insts) != 4 { // windowWeeks=4, one weekday
		t.Errorf("got %d instances after create, want 4", len(insts))
	}

	nt.Weekdays = 0
	if _, err = svc.CreateTemplate(nt); err == nil {
		t.Error("CreateTemplate() succeeded with no weekdays")
	}
}

func TestService_UpdateTemplate(t *testing.T) {
	svc, repo := setup(t)
	tpl := seedTemplate(t, repo, weeklyTemplate())

	lead := 10
	inactive := false
	updated, err := svc.UpdateTemplate(tpl.ID, schedule.UpdateTemplate{
		Title:              "Evening drills",
		VisibilityLeadDays: &lead,
		Active:             &inactive,
	})
	if err != nil {
		t.Fatalf("UpdateTemplate() failed: %v", err)
	}
	if updated.Title != "Evening drills" {
		t.Errorf("Title = %s, want Evening drills", updated.Title)
	}
	if updated.VisibilityLeadDays != 10 {
		t.Errorf("VisibilityLeadDays = %d, want 10", updated.VisibilityLeadDays)
	}
	if updated.Active {
		t.Error("template still active")
	}
	// untouched recurrence fields survive
	if updated.Weekdays != tpl.Weekdays {
		t.Errorf("Weekdays = %v, want %v", updated.Weekdays, tpl.Weekdays)
	}

	if _, err = svc.UpdateTemplate("lol", schedule.UpdateTemplate{}); err != schedule.ErrTemplateNotFound {
		t.Errorf("UpdateTemplate() error = %v, want %v", err, schedule.ErrTemplateNotFound)
	}
}
