package booking_test

import (
	"testing"
	"time"

	"github.com/trezcool/chama/core/booking"
	"github.com/trezcool/chama/core/schedule"
	inmemdb "github.com/trezcool/chama/storage/database/inmem"
	testutil "github.com/trezcool/chama/tests"
)

type fixture struct {
	svc       *booking.Service
	schedRepo schedule.Repository
	seeder    testutil.SubscriptionSeeder
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := inmemdb.NewDB()
	repo := inmemdb.NewBookingRepository(db)
	return &fixture{
		svc:       booking.NewService(db, repo, testutil.NewLogger()),
		schedRepo: inmemdb.NewScheduleRepository(db),
		seeder:    repo,
	}
}

// createSession persists an ad-hoc paid session starting at the given time.
func (f *fixture) createSession(t *testing.T, clubID string, startsAt time.Time, paymentMode string) schedule.Instance {
	t.Helper()
	inst, _, err := f.schedRepo.CreateInstance(schedule.Instance{
		ClubID:      clubID,
		Title:       "Training",
		OccursOn:    schedule.DateOf(startsAt),
		StartsAt:    startsAt,
		EndsAt:      startsAt.Add(90 * time.Minute),
		VisibleFrom: startsAt.AddDate(0, 0, -7),
		Status:      schedule.StatusScheduled,
		PaymentMode: paymentMode,
	})
	if err != nil {
		t.Fatalf("CreateInstance() failed: %v", err)
	}
	return inst
}

func (f *fixture) setRsvp(t *testing.T, instanceID, personID string, resp booking.Response) booking.RsvpResult {
	t.Helper()
	res, err := f.svc.SetRsvp(instanceID, booking.SetRsvp{PersonID: personID, Response: resp})
	if err != nil {
		t.Fatalf("SetRsvp(%s, %s) failed: %v", instanceID, resp, err)
	}
	return res
}

// three paid sessions in one Monday-Sunday week
func (f *fixture) weekSessions(t *testing.T, clubID string) [3]schedule.Instance {
	t.Helper()
	return [3]schedule.Instance{
		f.createSession(t, clubID, testutil.Date(2026, time.March, 3).Add(18*time.Hour), schedule.PaymentModePaid),
		f.createSession(t, clubID, testutil.Date(2026, time.March, 5).Add(18*time.Hour), schedule.PaymentModePaid),
		f.createSession(t, clubID, testutil.Date(2026, time.March, 7).Add(10*time.Hour), schedule.PaymentModePaid),
	}
}

func TestService_SetRsvp_weeklyAllowance(t *testing.T) {
	f := setup(t)
	sub := testutil.CreateSubscription(t, f.seeder, "alice", "club1", 2)
	sessions := f.weekSessions(t, "club1")

	// the first two attendances of the week are covered
	if res := f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("first yes of the week not covered")
	}
	if res := f.setRsvp(t, sessions[1].ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("second yes of the week not covered")
	}

	// the allowance is a soft cap: the third RSVP stands, uncovered
	res := f.setRsvp(t, sessions[2].ID, "alice", booking.ResponseYes)
	if res.SubscriptionSlotUsed {
		t.Error("third yes of the week covered beyond the allowance")
	}
	if res.Response != booking.ResponseYes {
		t.Errorf("Response = %s, want yes", res.Response)
	}
	rsvp, err := f.svc.GetRsvp("alice", sessions[2].ID)
	if err != nil {
		t.Fatalf("GetRsvp() failed: %v", err)
	}
	if rsvp.Response != booking.ResponseYes {
		t.Errorf("recorded response = %s, want yes", rsvp.Response)
	}

	// exactly the allowance was charged
	usage, err := f.svc.WeekUsage(sub.ID, sessions[0].StartsAt)
	if err != nil {
		t.Fatalf("WeekUsage() failed: %v", err)
	}
	if len(usage) != 2 {
		t.Errorf("week usage = %d records, want 2", len(usage))
	}
}

func TestService_SetRsvp_releaseOnWithdrawal(t *testing.T) {
	f := setup(t)
	sub := testutil.CreateSubscription(t, f.seeder, "alice", "club1", 1)
	sessions := f.weekSessions(t, "club1")

	if res := f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Fatal("first yes not covered")
	}
	// second session of the week is over the allowance
	if res := f.setRsvp(t, sessions[1].ID, "alice", booking.ResponseYes); res.SubscriptionSlotUsed {
		t.Fatal("second yes covered beyond the allowance")
	}

	// withdrawing hands the slot back to the weekly pool...
	f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseNo)
	usage, err := f.svc.WeekUsage(sub.ID, sessions[0].StartsAt)
	if err != nil {
		t.Fatalf("WeekUsage() failed: %v", err)
	}
	if len(usage) != 0 {
		t.Fatalf("week usage = %d records after withdrawal, want 0", len(usage))
	}

	// ...so the next attendance is covered again
	if res := f.setRsvp(t, sessions[2].ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("yes after release not covered")
	}
}

func TestService_SetRsvp_transitions(t *testing.T) {
	f := setup(t)
	sub := testutil.CreateSubscription(t, f.seeder, "alice", "club1", 1)
	sessions := f.weekSessions(t, "club1")

	// maybe consumes nothing
	if res := f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseMaybe); res.SubscriptionSlotUsed {
		t.Error("maybe consumed a slot")
	}
	// maybe -> yes consumes
	if res := f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("maybe -> yes not covered")
	}
	// yes -> yes is a benign repeat, still one record
	if res := f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("repeated yes lost its slot")
	}
	usage, err := f.svc.WeekUsage(sub.ID, sessions[0].StartsAt)
	if err != nil {
		t.Fatalf("WeekUsage() failed: %v", err)
	}
	if len(usage) != 1 {
		t.Errorf("week usage = %d records, want 1", len(usage))
	}
	// yes -> maybe releases
	if res := f.setRsvp(t, sessions[0].ID, "alice", booking.ResponseMaybe); res.SubscriptionSlotUsed {
		t.Error("yes -> maybe kept the slot")
	}
	usage, _ = f.svc.WeekUsage(sub.ID, sessions[0].StartsAt)
	if len(usage) != 0 {
		t.Errorf("week usage = %d records after stepping back, want 0", len(usage))
	}
}

func TestService_SetRsvp_quotaBypass(t *testing.T) {
	f := setup(t)
	sub := testutil.CreateSubscription(t, f.seeder, "alice", "club1", 5)

	// marked free for this person
	paid := f.createSession(t, "club1", testutil.Date(2026, time.March, 3).Add(18*time.Hour), schedule.PaymentModePaid)
	res, err := f.svc.SetRsvp(paid.ID, booking.SetRsvp{PersonID: "alice", Response: booking.ResponseYes, FreeSession: true})
	if err != nil {
		t.Fatalf("SetRsvp() failed: %v", err)
	}
	if res.SubscriptionSlotUsed {
		t.Error("free session charged a slot")
	}

	// the session itself is free
	free := f.createSession(t, "club1", testutil.Date(2026, time.March, 5).Add(18*time.Hour), schedule.PaymentModeFree)
	if res := f.setRsvp(t, free.ID, "alice", booking.ResponseYes); res.SubscriptionSlotUsed {
		t.Error("free-mode session charged a slot")
	}

	usage, err := f.svc.WeekUsage(sub.ID, paid.StartsAt)
	if err != nil {
		t.Fatalf("WeekUsage() failed: %v", err)
	}
	if len(usage) != 0 {
		t.Errorf("week usage = %d records, want 0", len(usage))
	}
}

func TestService_SetRsvp_noSubscription(t *testing.T) {
	f := setup(t)
	sess := f.createSession(t, "club1", testutil.Date(2026, time.March, 3).Add(18*time.Hour), schedule.PaymentModePaid)

	// the RSVP is still recorded; collection happens elsewhere
	res, err := f.svc.SetRsvp(sess.ID, booking.SetRsvp{PersonID: "alice", Response: booking.ResponseYes})
	if err != nil {
		t.Fatalf("SetRsvp() failed: %v", err)
	}
	if res.SubscriptionSlotUsed {
		t.Error("slot used without a subscription")
	}
	if _, err = f.svc.GetRsvp("alice", sess.ID); err != nil {
		t.Errorf("GetRsvp() failed: %v", err)
	}

	// a lapsed subscription does not back slots either
	f.seeder.CreateSubscription(booking.Subscription{
		MemberID: "bob", ClubID: "club1", Status: booking.StatusCancelled, WeeklyAllowance: 5,
	})
	if res := f.setRsvp(t, sess.ID, "bob", booking.ResponseYes); res.SubscriptionSlotUsed {
		t.Error("cancelled subscription backed a slot")
	}
}

func TestService_SetRsvp_weeksAreIndependent(t *testing.T) {
	f := setup(t)
	sub := testutil.CreateSubscription(t, f.seeder, "alice", "club1", 1)

	// consecutive Tuesdays fall in different Monday-Sunday weeks
	week1 := f.createSession(t, "club1", testutil.Date(2026, time.March, 3).Add(18*time.Hour), schedule.PaymentModePaid)
	week2 := f.createSession(t, "club1", testutil.Date(2026, time.March, 10).Add(18*time.Hour), schedule.PaymentModePaid)

	if res := f.setRsvp(t, week1.ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("week 1 attendance not covered")
	}
	if res := f.setRsvp(t, week2.ID, "alice", booking.ResponseYes); !res.SubscriptionSlotUsed {
		t.Error("week 2 attendance not covered")
	}

	for _, at := range []time.Time{week1.StartsAt, week2.StartsAt} {
		usage, err := f.svc.WeekUsage(sub.ID, at)
		if err != nil {
			t.Fatalf("WeekUsage() failed: %v", err)
		}
		if len(usage) != 1 {
			t.Errorf("week of %v has %d usage records, want 1", at, len(usage))
		}
	}
}

func TestService_ReleaseInstanceSlots(t *testing.T) {
	f := setup(t)
	subA := testutil.CreateSubscription(t, f.seeder, "alice", "club1", 2)
	testutil.CreateSubscription(t, f.seeder, "bob", "club1", 2)
	sess := f.createSession(t, "club1", testutil.Date(2026, time.March, 3).Add(18*time.Hour), schedule.PaymentModePaid)

	f.setRsvp(t, sess.ID, "alice", booking.ResponseYes)
	f.setRsvp(t, sess.ID, "bob", booking.ResponseYes)

	// cancellation cleanup releases every slot charged for the session
	if err := f.svc.ReleaseInstanceSlots(sess.ID); err != nil {
		t.Fatalf("ReleaseInstanceSlots() failed: %v", err)
	}
	usage, err := f.svc.WeekUsage(subA.ID, sess.StartsAt)
	if err != nil {
		t.Fatalf("WeekUsage() failed: %v", err)
	}
	if len(usage) != 0 {
		t.Errorf("week usage = %d records after release, want 0", len(usage))
	}

	// the responses themselves survive the release
	rsvps, err := f.svc.QueryInstanceRsvps(sess.ID)
	if err != nil {
		t.Fatalf("QueryInstanceRsvps() failed: %v", err)
	}
	if len(rsvps) != 2 {
		t.Errorf("got %d responses, want 2", len(rsvps))
	}
}

func TestService_SetRsvp_unknownSession(t *testing.T) {
	f := setup(t)

	_, err := f.svc.SetRsvp("lol", booking.SetRsvp{PersonID: "alice", Response: booking.ResponseYes})
	if err != booking.ErrInstanceNotFound {
		t.Errorf("SetRsvp() error = %v, want %v", err, booking.ErrInstanceNotFound)
	}

	sess := f.createSession(t, "club1", testutil.Date(2026, time.March, 3).Add(18*time.Hour), schedule.PaymentModePaid)
	if _, err = f.svc.GetRsvp("alice", sess.ID); err != booking.ErrRsvpNotFound {
		t.Errorf("GetRsvp() error = %v, want %v", err, booking.ErrRsvpNotFound)
	}
}
