package inmemdb

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/schedule"
)

type scheduleRepository struct {
	db *DB
}

var _ schedule.Repository = (*scheduleRepository)(nil)

func NewScheduleRepository(db *DB) *scheduleRepository {
	return &scheduleRepository{db: db}
}

func (repo *scheduleRepository) CreateTemplate(tpl schedule.Template) (schedule.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	tpl.ID = uuid.New().String()
	repo.db.templates[tpl.ID] = &tpl
	return tpl, nil
}

func (repo *scheduleRepository) GetTemplateByID(id string) (schedule.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if tpl, ok := repo.db.templates[id]; ok {
		return *tpl, nil
	}
	return schedule.Template{}, schedule.ErrTemplateNotFound
}

// QueryTemplates ignores ordering; listings come back in creation order.
func (repo *scheduleRepository) QueryTemplates(clubID string, _ []core.DBOrdering) ([]schedule.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	tpls := make([]schedule.Template, 0, len(repo.db.templates))
	for _, tpl := range repo.db.templates {
		if clubID == "" || tpl.ClubID == clubID {
			tpls = append(tpls, *tpl)
		}
	}
	sortTemplates(tpls)
	return tpls, nil
}

func (repo *scheduleRepository) QueryActiveTemplates() ([]schedule.Template, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var tpls []schedule.Template
	for _, tpl := range repo.db.templates {
		if tpl.Active {
			tpls = append(tpls, *tpl)
		}
	}
	sortTemplates(tpls)
	return tpls, nil
}

func (repo *scheduleRepository) UpdateTemplate(tpl schedule.Template, active *bool) (schedule.Template, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.templates[tpl.ID]
	if !ok {
		return schedule.Template{}, schedule.ErrTemplateNotFound
	}
	orig.Title = tpl.Title
	orig.Description = tpl.Description
	orig.Location = tpl.Location
	orig.VisibilityLeadDays = tpl.VisibilityLeadDays
	orig.FeeCents = tpl.FeeCents
	orig.PaymentMode = tpl.PaymentMode
	orig.UpdatedAt = tpl.UpdatedAt
	if active != nil {
		orig.Active = *active
	}
	return *orig, nil
}

func (repo *scheduleRepository) ExistingDates(templateID string, from time.Time) ([]time.Time, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var dates []time.Time
	for _, inst := range repo.db.instances {
		if inst.TemplateID.String == templateID && !inst.OccursOn.Before(schedule.DateOf(from)) {
			dates = append(dates, inst.OccursOn)
		}
	}
	return dates, nil
}

func (repo *scheduleRepository) CreateInstance(inst schedule.Instance) (schedule.Instance, bool, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	// mirror the (template, date) unique index
	if inst.TemplateID.Valid {
		for _, other := range repo.db.instances {
			if other.TemplateID.String == inst.TemplateID.String &&
				schedule.DateKey(other.OccursOn) == schedule.DateKey(inst.OccursOn) {
				return schedule.Instance{}, false, nil
			}
		}
	}

	now := time.Now().UTC()
	inst.ID = uuid.New().String()
	inst.CreatedAt, inst.UpdatedAt = now, now
	repo.db.instances[inst.ID] = &inst
	return inst, true, nil
}

func (repo *scheduleRepository) GetInstanceByID(id string) (schedule.Instance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if inst, ok := repo.db.instances[id]; ok {
		return *inst, nil
	}
	return schedule.Instance{}, schedule.ErrInstanceNotFound
}

func (repo *scheduleRepository) FilterInstances(filter schedule.InstanceFilter) ([]schedule.Instance, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var insts []schedule.Instance
	for _, inst := range repo.db.instances {
		if filter.ClubID != "" && inst.ClubID != filter.ClubID {
			continue
		}
		if !filter.From.IsZero() && inst.StartsAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !inst.StartsAt.Before(filter.To) {
			continue
		}
		if !filter.VisibleAt.IsZero() && inst.VisibleFrom.After(filter.VisibleAt) {
			continue
		}
		insts = append(insts, *inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].StartsAt.Before(insts[j].StartsAt) })
	return insts, nil
}

func (repo *scheduleRepository) SetInstanceStatus(id, status string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	inst, ok := repo.db.instances[id]
	if !ok {
		return schedule.ErrInstanceNotFound
	}
	inst.Status = status
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

func (repo *scheduleRepository) CreateStandingInvitation(inv schedule.StandingInvitation) (schedule.StandingInvitation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	for _, other := range repo.db.standingInvitations[inv.TemplateID] {
		if other.InviteeID == inv.InviteeID {
			return other, nil
		}
	}
	inv.ID = uuid.New().String()
	repo.db.standingInvitations[inv.TemplateID] = append(repo.db.standingInvitations[inv.TemplateID], inv)
	return inv, nil
}

func (repo *scheduleRepository) DeleteStandingInvitation(templateID, inviteeID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	invs := repo.db.standingInvitations[templateID]
	for i, inv := range invs {
		if inv.InviteeID == inviteeID {
			repo.db.standingInvitations[templateID] = append(invs[:i], invs[i+1:]...)
			return nil
		}
	}
	return nil
}

func (repo *scheduleRepository) QueryStandingInvitations(templateID string) ([]schedule.StandingInvitation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	return append([]schedule.StandingInvitation(nil), repo.db.standingInvitations[templateID]...), nil
}

func (repo *scheduleRepository) QueryInstanceInvitations(instanceID string) ([]schedule.InstanceInvitation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	return append([]schedule.InstanceInvitation(nil), repo.db.instanceInvitations[instanceID]...), nil
}

func (repo *scheduleRepository) CopyStandingInvitations(templateID, instanceID string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	now := time.Now().UTC()
outer:
	for _, std := range repo.db.standingInvitations[templateID] {
		for _, existing := range repo.db.instanceInvitations[instanceID] {
			if existing.InviteeID == std.InviteeID {
				continue outer
			}
		}
		repo.db.instanceInvitations[instanceID] = append(repo.db.instanceInvitations[instanceID], schedule.InstanceInvitation{
			ID:          uuid.New().String(),
			InstanceID:  instanceID,
			InviteeID:   std.InviteeID,
			InviteeKind: std.InviteeKind,
			CreatedAt:   now,
		})
	}
	return nil
}

func sortTemplates(tpls []schedule.Template) {
	sort.Slice(tpls, func(i, j int) bool { return tpls[i].CreatedAt.Before(tpls[j].CreatedAt) })
}
