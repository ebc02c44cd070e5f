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

const recordReferralKey = "communities.record_referral"

type RecordReferralCommand struct {
	Code   string
	UserID string
}

func (RecordReferralCommand) Key() string { return recordReferralKey }

func (c RecordReferralCommand) Validate() error {
	if strings.TrimSpace(c.Code) == "" {
		return errs.Validation("referral code is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return errs.Validation("user id is required")
	}
	return nil
}

type RecordReferralResult struct {
	ReferrerID string    `json:"referrer_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type RecordReferralHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

func (h *RecordReferralHandler) Handle(ctx context.Context, cmd RecordReferralCommand) (*RecordReferralResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*RecordReferralResult, error) {
		code := strings.ToUpper(strings.TrimSpace(cmd.Code))
		ref, err := unit.Communities().RecordReferral(ctx, code, cmd.UserID, nowFrom(h.Now))
		if err != nil {
			return nil, err
		}
		if err := outbox.Record(ctx, h.Outbox, h.Encoder, domaincommunities.NewReferralRecorded(ref)); err != nil {
			return nil, err
		}
		return &RecordReferralResult{ReferrerID: ref.ReferrerID, CreatedAt: ref.CreatedAt}, nil
	})
}
