package communities

import (
	"context"
	"strings"
	"time"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/uow"
	domaincommunities "campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/shared/errs"
)

const (
	joinSchoolKey  = "communities.join_school"
	leaveSchoolKey = "communities.leave_school"
)

type JoinSchoolCommand struct {
	SchoolID string
	UserID   string
}

func (JoinSchoolCommand) Key() string { return joinSchoolKey }

func (c JoinSchoolCommand) Validate() error {
	if strings.TrimSpace(c.SchoolID) == "" {
		return errs.Validation("school id is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errs.Validation("user id is required")
	}
	return nil
}

type MembershipResult struct {
	SchoolID         string `json:"school_id"`
	PreviousSchoolID string `json:"previous_school_id,omitempty"`
}

type JoinSchoolHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

// Handle moves the user into the school. Leaving the previous school and
// joining the new one happen in one unit of work so both counters stay in step.
func (h *JoinSchoolHandler) Handle(ctx context.Context, cmd JoinSchoolCommand) (*MembershipResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*MembershipResult, error) {
		repo := unit.Communities()
		profile, err := unit.Catalog().Profile(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if profile.SchoolID == cmd.SchoolID {
			return nil, domaincommunities.ErrAlreadyMember
		}
		if profile.SchoolID != "" {
			if err := releaseAdmin(ctx, repo, profile.SchoolID, cmd.UserID); err != nil {
				return nil, err
			}
		}
		previous, err := repo.Join(ctx, cmd.UserID, cmd.SchoolID)
		if err != nil {
			return nil, err
		}
		at := nowFrom(h.Now)
		evs := []domaincommunities.MembershipChanged{domaincommunities.NewMemberJoined(cmd.SchoolID, cmd.UserID, previous, at)}
		if previous != "" {
			evs = append(evs, domaincommunities.NewMemberLeft(previous, cmd.UserID, at))
		}
		for _, ev := range evs {
			if err := outbox.Record(ctx, h.Outbox, h.Encoder, ev); err != nil {
				return nil, err
			}
		}
		return &MembershipResult{SchoolID: cmd.SchoolID, PreviousSchoolID: previous}, nil
	})
}

type LeaveSchoolCommand struct {
	UserID string
}

func (LeaveSchoolCommand) Key() string { return leaveSchoolKey }

func (c LeaveSchoolCommand) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return errs.Validation("user id is required")
	}
	return nil
}

type LeaveSchoolHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

func (h *LeaveSchoolHandler) Handle(ctx context.Context, cmd LeaveSchoolCommand) (*MembershipResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*MembershipResult, error) {
		repo := unit.Communities()
		profile, err := unit.Catalog().Profile(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if profile.SchoolID == "" {
			return nil, domaincommunities.ErrNotMember
		}
		if err := releaseAdmin(ctx, repo, profile.SchoolID, cmd.UserID); err != nil {
			return nil, err
		}
		left, err := repo.Leave(ctx, cmd.UserID)
		if err != nil {
			return nil, err
		}
		if err := outbox.Record(ctx, h.Outbox, h.Encoder, domaincommunities.NewMemberLeft(left, cmd.UserID, nowFrom(h.Now))); err != nil {
			return nil, err
		}
		return &MembershipResult{PreviousSchoolID: left}, nil
	})
}

// releaseAdmin drops the user's admin seat before they leave a school. The last
// admin cannot leave.
func releaseAdmin(ctx context.Context, repo domaincommunities.Repository, schoolID, userID string) error {
	school, err := repo.School(ctx, schoolID)
	if err != nil {
		return err
	}
	if !school.IsAdmin(userID) {
		return nil
	}
	if err := school.CanRemoveAdmin(userID); err != nil {
		return err
	}
	return repo.RemoveAdmin(ctx, schoolID, userID)
}

func nowFrom(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}
