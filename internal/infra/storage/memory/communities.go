package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
)

type CommunityRepository struct {
	store *Store
}

func (r *CommunityRepository) School(ctx context.Context, schoolID string) (communities.School, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	school, ok := r.store.schools[schoolID]
	if !ok {
		return communities.School{}, communities.ErrSchoolNotFound
	}
	return cloneSchool(school), nil
}

func (r *CommunityRepository) SchoolsInState(ctx context.Context, state string) ([]communities.School, error) {
	state = communities.NormalizeState(state)
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []communities.School
	for _, school := range r.store.schools {
		if communities.NormalizeState(school.State) == state {
			out = append(out, cloneSchool(school))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *CommunityRepository) Join(ctx context.Context, userID, schoolID string) (string, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return "", catalog.ErrProfileNotFound
	}
	target, ok := s.schools[schoolID]
	if !ok {
		return "", communities.ErrSchoolNotFound
	}
	previous := profile.SchoolID
	if previous == schoolID {
		return "", communities.ErrAlreadyMember
	}
	snap := s.snapshotMembership(userID, previous, schoolID)
	if prev, ok := s.schools[previous]; ok && previous != "" {
		prev.MemberCount = max(prev.MemberCount-1, 0)
		s.schools[previous] = prev
	}
	target.MemberCount++
	s.schools[schoolID] = target
	profile.SchoolID = schoolID
	s.profiles[userID] = profile
	onRollback(ctx, snap.restore)
	return previous, nil
}

func (r *CommunityRepository) Leave(ctx context.Context, userID string) (string, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return "", catalog.ErrProfileNotFound
	}
	schoolID := profile.SchoolID
	if schoolID == "" {
		return "", communities.ErrNotMember
	}
	snap := s.snapshotMembership(userID, schoolID)
	if school, ok := s.schools[schoolID]; ok {
		school.MemberCount = max(school.MemberCount-1, 0)
		school.Admins = without(school.Admins, userID)
		s.schools[schoolID] = school
	}
	profile.SchoolID = ""
	s.profiles[userID] = profile
	onRollback(ctx, snap.restore)
	return schoolID, nil
}

func (r *CommunityRepository) AddAdmin(ctx context.Context, schoolID, userID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	school, ok := s.schools[schoolID]
	if !ok {
		return communities.ErrSchoolNotFound
	}
	if school.IsAdmin(userID) {
		return communities.ErrAlreadyAdmin
	}
	snap := s.snapshotMembership("", schoolID)
	school = cloneSchool(school)
	school.Admins = append(school.Admins, userID)
	s.schools[schoolID] = school
	onRollback(ctx, snap.restore)
	return nil
}

func (r *CommunityRepository) RemoveAdmin(ctx context.Context, schoolID, userID string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	school, ok := s.schools[schoolID]
	if !ok {
		return communities.ErrSchoolNotFound
	}
	if err := school.CanRemoveAdmin(userID); err != nil {
		return err
	}
	snap := s.snapshotMembership("", schoolID)
	school = cloneSchool(school)
	school.Admins = without(school.Admins, userID)
	s.schools[schoolID] = school
	onRollback(ctx, snap.restore)
	return nil
}

func (r *CommunityRepository) RecordReferral(ctx context.Context, code, referredUserID string, at time.Time) (communities.Referral, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	referred, ok := s.profiles[referredUserID]
	if !ok {
		return communities.Referral{}, catalog.ErrProfileNotFound
	}
	var referrer catalog.Profile
	found := false
	for _, p := range s.profiles {
		if p.ReferralCode != "" && strings.EqualFold(p.ReferralCode, code) {
			referrer, found = p, true
			break
		}
	}
	if !found {
		return communities.Referral{}, communities.ErrUnknownCode
	}
	if referrer.ID == referredUserID {
		return communities.Referral{}, communities.ErrSelfReferral
	}
	if _, exists := s.referrals[referredUserID]; exists || referred.ReferredBy != "" {
		return communities.Referral{}, communities.ErrAlreadyReferred
	}
	ref := communities.Referral{
		ReferredUserID: referredUserID,
		ReferrerID:     referrer.ID,
		Code:           code,
		CreatedAt:      at.UTC(),
	}
	prevReferrer, prevReferred := referrer, referred
	s.referrals[referredUserID] = ref
	referrer.ReferralCount++
	s.profiles[referrer.ID] = referrer
	referred.ReferredBy = referrer.ID
	s.profiles[referredUserID] = referred
	onRollback(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.referrals, referredUserID)
		s.profiles[prevReferrer.ID] = prevReferrer
		s.profiles[prevReferred.ID] = prevReferred
	})
	return ref, nil
}

type membershipSnapshot struct {
	store   *Store
	profile *catalog.Profile
	schools []communities.School
}

// snapshotMembership captures a profile and schools so a rollback can restore them. Caller holds mu.
func (s *Store) snapshotMembership(userID string, schoolIDs ...string) membershipSnapshot {
	snap := membershipSnapshot{store: s}
	if p, ok := s.profiles[userID]; ok {
		snap.profile = &p
	}
	for _, id := range schoolIDs {
		if school, ok := s.schools[id]; ok {
			snap.schools = append(snap.schools, cloneSchool(school))
		}
	}
	return snap
}

func (m membershipSnapshot) restore() {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if m.profile != nil {
		m.store.profiles[m.profile.ID] = *m.profile
	}
	for _, school := range m.schools {
		m.store.schools[school.ID] = school
	}
}

func cloneSchool(s communities.School) communities.School {
	s.Admins = append([]string(nil), s.Admins...)
	return s
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, other := range ids {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

var _ communities.Repository = (*CommunityRepository)(nil)
