package tests

import (
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/chama/core/booking"
	testutil "github.com/trezcool/chama/tests"
)

func Test_bookingApi_setRsvp(t *testing.T) {
	app := setup(t)
	now := time.Now().UTC()

	sess := createSession(t, "club1", now.AddDate(0, 0, 2), now.AddDate(0, 0, -1))
	testutil.CreateSubscription(t, subSeeder, "alice", "club1", 2)

	path := "/v1/sessions/" + sess.ID + "/rsvp"

	tests := []httpTest{
		{
			name: "no person", body: marchallObj(t, map[string]string{"response": "yes"}),
			path: path, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"person_id": "this field is required"}),
		},
		{
			name: "bad response", body: marchallObj(t, map[string]string{"person_id": "alice", "response": "nope"}),
			path: path, wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown session", body: marchallObj(t, map[string]string{"person_id": "alice", "response": "yes"}),
			path: "/v1/sessions/lol/rsvp", wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "session not found"}),
		},
		{
			name: "covered yes", body: marchallObj(t, map[string]string{"person_id": "alice", "response": "yes"}),
			path: path, wantCode: http.StatusOK,
			wantData: marchallObj(t, booking.RsvpResult{Response: booking.ResponseYes, SubscriptionSlotUsed: true}),
		},
		{
			name: "step back to maybe", body: marchallObj(t, map[string]string{"person_id": "alice", "response": "maybe"}),
			path: path, wantCode: http.StatusOK,
			wantData: marchallObj(t, booking.RsvpResult{Response: booking.ResponseMaybe}),
		},
		{
			name: "free attendance", body: marchallObj(t, map[string]interface{}{
				"person_id": "bob", "response": "yes", "free_session": true,
			}),
			path: path, wantCode: http.StatusOK,
			wantData: marchallObj(t, booking.RsvpResult{Response: booking.ResponseYes}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPut, tt.path, tt.body)
			app.ServeHTTP(rec, req)
			if tt.wantData == nil {
				if rec.Code != tt.wantCode {
					t.Errorf("code = %v, want %v; body %s", rec.Code, tt.wantCode, rec.Body.String())
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_bookingApi_getRsvps(t *testing.T) {
	app := setup(t)
	now := time.Now().UTC()

	sess := createSession(t, "club1", now.AddDate(0, 0, 2), now.AddDate(0, 0, -1))
	for _, person := range []string{"alice", "bob"} {
		if _, err := bookingSvc.SetRsvp(sess.ID, booking.SetRsvp{PersonID: person, Response: booking.ResponseYes}); err != nil {
			t.Fatalf("SetRsvp() failed: %v", err)
		}
	}

	t.Run("list", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/rsvps")
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v, want %v", rec.Code, http.StatusOK)
		}
		var rsvps []booking.Rsvp
		decodeBody(t, rec, &rsvps)
		if len(rsvps) != 2 {
			t.Errorf("got %d responses, want 2", len(rsvps))
		}
	})

	t.Run("single", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/rsvp?person_id=alice")
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %v, want %v", rec.Code, http.StatusOK)
		}
		var rsvp booking.Rsvp
		decodeBody(t, rec, &rsvp)
		if rsvp.Response != booking.ResponseYes {
			t.Errorf("Response = %s, want yes", rsvp.Response)
		}
	})

	t.Run("missing person param", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/rsvp")
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %v, want %v", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("no response recorded", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/rsvp?person_id=carol")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "no response recorded"}),
		}, rec)
	})
}
