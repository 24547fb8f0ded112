package inmemdb

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/booking"
)

type bookingRepository struct {
	db *DB
}

var _ booking.Repository = (*bookingRepository)(nil)

func NewBookingRepository(db *DB) *bookingRepository {
	return &bookingRepository{db: db}
}

func (repo *bookingRepository) GetSession(instanceID string, _ ...core.DBExecutor) (booking.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	inst, ok := repo.db.instances[instanceID]
	if !ok {
		return booking.Session{}, booking.ErrInstanceNotFound
	}
	return booking.Session{
		ID:          inst.ID,
		ClubID:      inst.ClubID,
		StartsAt:    inst.StartsAt,
		Status:      inst.Status,
		PaymentMode: inst.PaymentMode,
	}, nil
}

func (repo *bookingRepository) GetRsvp(personID, instanceID string, _ ...core.DBExecutor) (booking.Rsvp, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if r, ok := repo.db.rsvps[key(personID, instanceID)]; ok {
		return r, nil
	}
	return booking.Rsvp{}, booking.ErrRsvpNotFound
}

func (repo *bookingRepository) UpsertRsvp(rsvp booking.Rsvp, _ ...core.DBExecutor) (booking.Rsvp, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	k := key(rsvp.PersonID, rsvp.InstanceID)
	if prev, ok := repo.db.rsvps[k]; ok {
		rsvp.CreatedAt = prev.CreatedAt
	}
	repo.db.rsvps[k] = rsvp
	return rsvp, nil
}

func (repo *bookingRepository) QueryInstanceRsvps(instanceID string) ([]booking.Rsvp, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var rsvps []booking.Rsvp
	for _, r := range repo.db.rsvps {
		if r.InstanceID == instanceID {
			rsvps = append(rsvps, r)
		}
	}
	sort.Slice(rsvps, func(i, j int) bool { return rsvps[i].PersonID < rsvps[j].PersonID })
	return rsvps, nil
}

func (repo *bookingRepository) GetActiveSubscription(memberID, clubID string, _ ...core.DBExecutor) (booking.Subscription, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var found *booking.Subscription
	for _, sub := range repo.db.subscriptions {
		if sub.MemberID != memberID || sub.ClubID != clubID || sub.Status != booking.StatusActive {
			continue
		}
		if found == nil || sub.CreatedAt.After(found.CreatedAt) {
			found = sub
		}
	}
	if found == nil {
		return booking.Subscription{}, booking.ErrSubscriptionNotFound
	}
	return *found, nil
}

func (repo *bookingRepository) CountWeekUsage(subscriptionID string, weekStart, weekEnd time.Time, _ ...core.DBExecutor) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var count int
	for _, u := range repo.db.usage {
		if u.SubscriptionID == subscriptionID && repo.startsWithin(u.InstanceID, weekStart, weekEnd) {
			count++
		}
	}
	return count, nil
}

func (repo *bookingRepository) CreateUsage(subscriptionID, instanceID string, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	k := key(subscriptionID, instanceID)
	if _, ok := repo.db.usage[k]; ok {
		return false, nil
	}
	repo.db.usage[k] = booking.QuotaUsage{
		ID:             uuid.New().String(),
		SubscriptionID: subscriptionID,
		InstanceID:     instanceID,
		CreatedAt:      time.Now().UTC(),
	}
	return true, nil
}

func (repo *bookingRepository) UsageExists(subscriptionID, instanceID string, _ ...core.DBExecutor) (bool, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	_, ok := repo.db.usage[key(subscriptionID, instanceID)]
	return ok, nil
}

func (repo *bookingRepository) DeleteMemberUsage(memberID, instanceID string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for k, u := range repo.db.usage {
		if u.InstanceID != instanceID {
			continue
		}
		if sub, ok := repo.db.subscriptions[u.SubscriptionID]; ok && sub.MemberID == memberID {
			delete(repo.db.usage, k)
		}
	}
	return nil
}

func (repo *bookingRepository) DeleteInstanceUsage(instanceID string, _ ...core.DBExecutor) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for k := range repo.db.usage {
		if strings.HasSuffix(k, "|"+instanceID) {
			delete(repo.db.usage, k)
		}
	}
	return nil
}

func (repo *bookingRepository) QueryWeekUsage(subscriptionID string, weekStart, weekEnd time.Time) ([]booking.QuotaUsage, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var records []booking.QuotaUsage
	for _, u := range repo.db.usage {
		if u.SubscriptionID == subscriptionID && repo.startsWithin(u.InstanceID, weekStart, weekEnd) {
			records = append(records, u)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt.Before(records[j].CreatedAt) })
	return records, nil
}

// startsWithin reports whether the instance starts in [from, to). Callers hold
// the store mutex.
func (repo *bookingRepository) startsWithin(instanceID string, from, to time.Time) bool {
	inst, ok := repo.db.instances[instanceID]
	if !ok {
		return false
	}
	return !inst.StartsAt.Before(from) && inst.StartsAt.Before(to)
}

// CreateSubscription seeds a subscription; used by tests. The billing
// subsystem owns subscriptions in production.
func (repo *bookingRepository) CreateSubscription(sub booking.Subscription) booking.Subscription {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	repo.db.subscriptions[sub.ID] = &sub
	return sub
}
