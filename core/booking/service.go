package booking

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/chama/core"
)

var (
	// errors
	ErrInstanceNotFound = errors.New("session not found")
	// ErrSubscriptionNotFound marks the valid no-quota branch: the RSVP is
	// still recorded and another collection path applies.
	ErrSubscriptionNotFound = errors.New("no active subscription")
	ErrRsvpNotFound         = errors.New("no response recorded")
)

type (
	Repository interface {
		GetSession(instanceID string, exec ...core.DBExecutor) (Session, error)

		GetRsvp(personID, instanceID string, exec ...core.DBExecutor) (Rsvp, error)
		// UpsertRsvp writes the response with last-write-wins semantics on
		// (person, instance).
		UpsertRsvp(rsvp Rsvp, exec ...core.DBExecutor) (Rsvp, error)
		QueryInstanceRsvps(instanceID string) ([]Rsvp, error)

		// GetActiveSubscription resolves the member's current active
		// subscription for the club; ErrSubscriptionNotFound when there is none.
		GetActiveSubscription(memberID, clubID string, exec ...core.DBExecutor) (Subscription, error)
		// CountWeekUsage counts usage records whose instance starts within
		// [weekStart, weekEnd) UTC.
		CountWeekUsage(subscriptionID string, weekStart, weekEnd time.Time, exec ...core.DBExecutor) (int, error)
		// CreateUsage is an idempotent insert on (subscription, instance);
		// the bool is false when the record already existed.
		CreateUsage(subscriptionID, instanceID string, exec ...core.DBExecutor) (bool, error)
		UsageExists(subscriptionID, instanceID string, exec ...core.DBExecutor) (bool, error)
		// DeleteMemberUsage releases any slot the member holds for the
		// instance, whichever of their subscriptions it was charged to.
		DeleteMemberUsage(memberID, instanceID string, exec ...core.DBExecutor) error
		// DeleteInstanceUsage releases every slot charged for the instance;
		// used by the cancellation cleanup contract.
		DeleteInstanceUsage(instanceID string, exec ...core.DBExecutor) error
		QueryWeekUsage(subscriptionID string, weekStart, weekEnd time.Time) ([]QuotaUsage, error)
	}

	Service struct {
		db     core.Transactor
		repo   Repository
		logger core.Logger
	}
)

func NewService(db core.Transactor, repo Repository, logger core.Logger) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		logger: logger,
	}
}

// SetRsvp records an attendance-intent change and applies its quota effect.
// The quota action is decided by the transition from the previously recorded
// response, not by the destination state alone:
//
//   - entering `yes` consumes a weekly slot when the member has an active
//     subscription with room left in the instance's Monday-Sunday week;
//   - leaving `yes` releases the slot back to the week's pool.
//
// Going over the allowance never rejects the RSVP; the attendance is simply
// not covered (soft cap - reconciliation is the billing subsystem's problem).
// The response write and the quota change commit in one transaction.
func (svc *Service) SetRsvp(instanceID string, sr SetRsvp) (RsvpResult, error) {
	sess, err := svc.repo.GetSession(instanceID)
	if err != nil {
		return RsvpResult{}, err
	}

	prev := ResponseNone
	if r, err := svc.repo.GetRsvp(sr.PersonID, instanceID); err == nil {
		prev = r.Response
	} else if errors.Cause(err) != ErrRsvpNotFound {
		return RsvpResult{}, errors.Wrap(err, "reading previous response")
	}

	tx, err := svc.db.Begin()
	if err != nil {
		return RsvpResult{}, errors.Wrap(err, "beginning transaction")
	}

	res, err := svc.setRsvp(tx, sess, sr, prev)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			svc.logger.Error(fmt.Sprintf("rolling back rsvp for session %s: %v", instanceID, rbErr), rbErr)
		}
		return RsvpResult{}, err
	}
	if err = tx.Commit(); err != nil {
		return RsvpResult{}, errors.Wrap(err, "committing rsvp")
	}
	return res, nil
}

func (svc *Service) setRsvp(tx core.DBTransactor, sess Session, sr SetRsvp, prev Response) (RsvpResult, error) {
	now := time.Now().UTC()
	rsvp := Rsvp{
		PersonID:    sr.PersonID,
		InstanceID:  sess.ID,
		Response:    sr.Response,
		FreeSession: sr.FreeSession,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := svc.repo.UpsertRsvp(rsvp, tx); err != nil {
		return RsvpResult{}, errors.Wrap(err, "recording response")
	}

	res := RsvpResult{Response: sr.Response}

	// free sessions and free instances never touch the ledger
	quotaApplies := !sr.FreeSession && sess.PaymentMode != "free"

	switch {
	case sr.Response == ResponseYes && quotaApplies:
		// re-resolve the subscription on every transition; it may have
		// changed since the last edit
		sub, err := svc.repo.GetActiveSubscription(sr.PersonID, sess.ClubID, tx)
		if err != nil {
			if errors.Cause(err) == ErrSubscriptionNotFound {
				return res, nil // valid no-op branch
			}
			return RsvpResult{}, errors.Wrap(err, "resolving subscription")
		}

		if prev != ResponseYes {
			weekStart, weekEnd := WeekOf(sess.StartsAt)
			count, err := svc.repo.CountWeekUsage(sub.ID, weekStart, weekEnd, tx)
			if err != nil {
				return RsvpResult{}, errors.Wrap(err, "counting weekly usage")
			}
			if count < sub.WeeklyAllowance {
				if _, err = svc.repo.CreateUsage(sub.ID, sess.ID, tx); err != nil {
					return RsvpResult{}, errors.Wrap(err, "consuming quota slot")
				}
			}
			// count at the allowance: the RSVP stands, the slot is not covered
		}

		used, err := svc.repo.UsageExists(sub.ID, sess.ID, tx)
		if err != nil {
			return RsvpResult{}, errors.Wrap(err, "checking quota slot")
		}
		res.SubscriptionSlotUsed = used

	case prev == ResponseYes && sr.Response != ResponseYes:
		// release whichever subscription the slot was charged to, not just
		// the currently active one
		if err := svc.repo.DeleteMemberUsage(sr.PersonID, sess.ID, tx); err != nil {
			return RsvpResult{}, errors.Wrap(err, "releasing quota slot")
		}
	}

	return res, nil
}

func (svc *Service) GetRsvp(personID, instanceID string) (Rsvp, error) {
	return svc.repo.GetRsvp(personID, instanceID)
}

func (svc *Service) QueryInstanceRsvps(instanceID string) ([]Rsvp, error) {
	return svc.repo.QueryInstanceRsvps(instanceID)
}

// ReleaseInstanceSlots deletes every quota usage record attached to the
// instance. Cancellation and hard-delete paths must call this; the ledger
// does not watch the session calendar on its own.
func (svc *Service) ReleaseInstanceSlots(instanceID string) error {
	return svc.repo.DeleteInstanceUsage(instanceID)
}

func (svc *Service) GetActiveSubscription(memberID, clubID string) (Subscription, error) {
	return svc.repo.GetActiveSubscription(memberID, clubID)
}

// WeekUsage lists the usage records charged to the subscription for the
// Monday-Sunday week containing `at`. Read by billing exports.
func (svc *Service) WeekUsage(subscriptionID string, at time.Time) ([]QuotaUsage, error) {
	weekStart, weekEnd := WeekOf(at)
	return svc.repo.QueryWeekUsage(subscriptionID, weekStart, weekEnd)
}
