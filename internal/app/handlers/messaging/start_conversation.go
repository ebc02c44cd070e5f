package messaging

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"campusmarket/internal/app/handlers/support"
	"campusmarket/internal/app/outbox"
	"campusmarket/internal/app/uow"
	"campusmarket/internal/domain/catalog"
	domainmessaging "campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

const startConversationKey = "messaging.start_conversation"

// StartConversationCommand opens (or reuses) the buyer's thread with a listing's seller.
type StartConversationCommand struct {
	ListingID string
	BuyerID   string
}

func (StartConversationCommand) Key() string { return startConversationKey }

func (c StartConversationCommand) Validate() error {
	if strings.TrimSpace(c.ListingID) == "" {
		return errs.Validation("listing id is required")
	}
	return domainmessaging.ValidateUserKey(c.BuyerID)
}

type StartConversationResult struct {
	Conversation domainmessaging.Conversation `json:"conversation"`
	Created      bool                         `json:"created"`
}

type StartConversationHandler struct {
	UoWFactory uow.UoWFactory
	Outbox     outbox.Outbox
	Encoder    outbox.EventEncoder
	Now        func() time.Time
}

func (h *StartConversationHandler) Handle(ctx context.Context, cmd StartConversationCommand) (*StartConversationResult, error) {
	return support.Run(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) (*StartConversationResult, error) {
		listing, err := unit.Catalog().Listing(ctx, strings.TrimSpace(cmd.ListingID))
		if err != nil {
			return nil, err
		}
		if listing.Status == catalog.ListingHidden {
			return nil, catalog.ErrListingNotFound
		}
		now := time.Now()
		if h.Now != nil {
			now = h.Now()
		}
		candidate, err := domainmessaging.NewConversation(uuid.NewString(), listing.ID, []string{cmd.BuyerID, listing.SellerID}, now)
		if err != nil {
			return nil, err
		}
		conv, created, err := unit.Conversations().GetOrCreate(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if created {
			if err := outbox.Record(ctx, h.Outbox, h.Encoder, domainmessaging.NewConversationStarted(conv)); err != nil {
				return nil, err
			}
		}
		return &StartConversationResult{Conversation: conv, Created: created}, nil
	})
}
