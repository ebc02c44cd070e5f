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
	addAdminKey    = "communities.add_admin"
	removeAdminKey = "communities.remove_admin"
)

type AddAdminCommand struct {
	SchoolID string
	ActorID  string
	UserID   string
}

func (AddAdminCommand) Key() string { return addAdminKey }

func (c AddAdminCommand) Validate() error {
	return validateAdminChange(c.SchoolID, c.ActorID, c.UserID)
}

type RemoveAdminCommand struct {
	SchoolID string
	ActorID  string
	UserID   string
}

func (RemoveAdminCommand) Key() string { return removeAdminKey }

func (c RemoveAdminCommand) Validate() error {
	return validateAdminChange(c.SchoolID, c.ActorID, c.UserID)
}

func validateAdminChange(schoolID, actorID, userID string) error {
	if strings.TrimSpace(schoolID) == "" {
		return errs.Validation("school id is required")
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(actorID) == "" {
		return errs.Validation("user id is required")
	}
	return nil
}

type adminChange struct {
	schoolID, actorID, userID string
	grant                     bool
}

type AdminsResult struct {
	SchoolID string   `json:"school_id"`
	Admins   []string `json:"admins"`
}

// ChangeAdminHandler serves both AddAdminCommand and RemoveAdminCommand. Only
// current admins may change the list, and it never becomes empty.
type ChangeAdminHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

func (h *ChangeAdminHandler) Add(ctx context.Context, cmd AddAdminCommand) (*AdminsResult, error) {
	return h.apply(ctx, adminChange{schoolID: cmd.SchoolID, actorID: cmd.ActorID, userID: cmd.UserID, grant: true})
}

func (h *ChangeAdminHandler) Remove(ctx context.Context, cmd RemoveAdminCommand) (*AdminsResult, error) {
	return h.apply(ctx, adminChange{schoolID: cmd.SchoolID, actorID: cmd.ActorID, userID: cmd.UserID})
}

func (h *ChangeAdminHandler) apply(ctx context.Context, cmd adminChange) (*AdminsResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*AdminsResult, error) {
		repo := unit.Communities()
		school, err := repo.School(ctx, cmd.schoolID)
		if err != nil {
			return nil, err
		}
		if !school.IsAdmin(cmd.actorID) {
			return nil, domaincommunities.ErrAdminRequired
		}
		if cmd.grant {
			if school.IsAdmin(cmd.userID) {
				return nil, domaincommunities.ErrAlreadyAdmin
			}
			target, err := unit.Catalog().Profile(ctx, cmd.userID)
			if err != nil {
				return nil, err
			}
			if target.SchoolID != school.ID {
				return nil, domaincommunities.ErrNotMember
			}
			if err := repo.AddAdmin(ctx, school.ID, cmd.userID); err != nil {
				return nil, err
			}
		} else {
			if err := school.CanRemoveAdmin(cmd.userID); err != nil {
				return nil, err
			}
			if err := repo.RemoveAdmin(ctx, school.ID, cmd.userID); err != nil {
				return nil, err
			}
		}
		ev := domaincommunities.NewAdminChanged(school.ID, cmd.userID, cmd.actorID, cmd.grant, nowFrom(h.Now))
		if err := outbox.Record(ctx, h.Outbox, h.Encoder, ev); err != nil {
			return nil, err
		}
		updated, err := repo.School(ctx, school.ID)
		if err != nil {
			return nil, err
		}
		return &AdminsResult{SchoolID: updated.ID, Admins: updated.Admins}, nil
	})
}
