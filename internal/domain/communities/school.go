package communities

import (
	"context"
	"strings"
	"time"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/events"
)

const (
	// AdminLookupChunk caps the `$in` list when resolving listings of school admins.
	AdminLookupChunk = catalog.MaxSellersPerLookup
	// StateLookupChunk caps the `$in` list when resolving listings of a state's schools.
	StateLookupChunk = catalog.MaxSchoolsPerLookup
)

var (
	ErrSchoolNotFound  = errs.NotFound("school not found")
	ErrAlreadyMember   = errs.Conflict("already a member of this school")
	ErrNotMember       = errs.Conflict("not a member of this school")
	ErrAlreadyAdmin    = errs.Conflict("user is already a school admin")
	ErrNotAdmin        = errs.Conflict("user is not a school admin")
	ErrLastAdmin       = errs.Conflict("a school must keep at least one admin")
	ErrAdminRequired   = errs.Auth("school admin rights required", nil)
	ErrAlreadyReferred = errs.Conflict("user was already referred")
	ErrSelfReferral    = errs.Validation("cannot refer yourself")
	ErrUnknownCode     = errs.NotFound("referral code not found")
)

type School struct {
	ID          string
	Name        string
	State       string
	MemberCount int
	Admins      []string
	CreatedAt   time.Time
}

func (s School) IsAdmin(userID string) bool {
	for _, a := range s.Admins {
		if a == userID {
			return true
		}
	}
	return false
}

// CanRemoveAdmin enforces that the admin list never becomes empty.
func (s School) CanRemoveAdmin(userID string) error {
	if !s.IsAdmin(userID) {
		return ErrNotAdmin
	}
	if len(s.Admins) <= 1 {
		return ErrLastAdmin
	}
	return nil
}

// NormalizeState upper-cases US-style state codes so lookups are case insensitive.
func NormalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

type Referral struct {
	ReferredUserID string
	ReferrerID     string
	Code           string
	CreatedAt      time.Time
}

// Repository groups the community writes. Implementations run multi-document
// updates atomically; callers wrap them in a unit of work.
type Repository interface {
	School(ctx context.Context, schoolID string) (School, error)
	SchoolsInState(ctx context.Context, state string) ([]School, error)
	// Join moves the user to schoolID, adjusting both member counters. Returns the previous school id.
	Join(ctx context.Context, userID, schoolID string) (string, error)
	// Leave removes the user from their school and returns its id.
	Leave(ctx context.Context, userID string) (string, error)
	AddAdmin(ctx context.Context, schoolID, userID string) error
	RemoveAdmin(ctx context.Context, schoolID, userID string) error
	// RecordReferral links referredUserID to the owner of code and bumps the owner's counter.
	RecordReferral(ctx context.Context, code, referredUserID string, at time.Time) (Referral, error)
}

const (
	EventMemberJoined     = "communities.member_joined"
	EventMemberLeft       = "communities.member_left"
	EventAdminChanged     = "communities.admin_changed"
	EventReferralRecorded = "communities.referral_recorded"
)

type MembershipChanged struct {
	events.Base `json:"-"`
	SchoolID    string `json:"school_id"`
	UserID      string `json:"user_id"`
	Previous    string `json:"previous_school_id,omitempty"`
}

func NewMemberJoined(schoolID, userID, previous string, at time.Time) MembershipChanged {
	return MembershipChanged{Base: events.NewBase(EventMemberJoined, schoolID, at), SchoolID: schoolID, UserID: userID, Previous: previous}
}

func NewMemberLeft(schoolID, userID string, at time.Time) MembershipChanged {
	return MembershipChanged{Base: events.NewBase(EventMemberLeft, schoolID, at), SchoolID: schoolID, UserID: userID}
}

type AdminChanged struct {
	events.Base `json:"-"`
	SchoolID    string `json:"school_id"`
	UserID      string `json:"user_id"`
	ActorID     string `json:"actor_id"`
	Granted     bool   `json:"granted"`
}

func NewAdminChanged(schoolID, userID, actorID string, granted bool, at time.Time) AdminChanged {
	return AdminChanged{Base: events.NewBase(EventAdminChanged, schoolID, at), SchoolID: schoolID, UserID: userID, ActorID: actorID, Granted: granted}
}

type ReferralRecorded struct {
	events.Base    `json:"-"`
	ReferrerID     string `json:"referrer_id"`
	ReferredUserID string `json:"referred_user_id"`
	Code           string `json:"code"`
}

func NewReferralRecorded(r Referral) ReferralRecorded {
	return ReferralRecorded{
		Base:           events.NewBase(EventReferralRecorded, r.ReferrerID, r.CreatedAt),
		ReferrerID:     r.ReferrerID,
		ReferredUserID: r.ReferredUserID,
		Code:           r.Code,
	}
}
