package notify

import (
	"context"
	"errors"
	"log/slog"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
)

const tagPrefix = "conversation:"

// MessageSentHandler turns message_sent events into notifications for the recipient.
type MessageSentHandler struct {
	Registry *Registry
	Catalog  catalog.Reader
	Logger   *slog.Logger
}

func (h *MessageSentHandler) Handle(ctx context.Context, ev messaging.MessageSent) error {
	if ev.RecipientUnread <= 0 || ev.RecipientID == "" {
		return nil
	}
	if h.Registry.Sessions(ev.RecipientID) == 0 {
		return nil
	}
	n, err := h.Build(ctx, ev)
	if err != nil {
		return err
	}
	delivered, err := h.Registry.Deliver(ctx, ev.RecipientID, n)
	if h.Logger != nil {
		h.Logger.DebugContext(ctx, "message notification", "conversation_id", ev.ConversationID, "recipient_id", ev.RecipientID, "delivered", delivered)
	}
	return err
}

// Build renders the notification for ev. Missing profiles and listings fall back to ids.
func (h *MessageSentHandler) Build(ctx context.Context, ev messaging.MessageSent) (Notification, error) {
	title := ev.SenderID
	if h.Catalog != nil {
		profile, err := h.Catalog.Profile(ctx, ev.SenderID)
		switch {
		case err == nil:
			title = profile.Name()
		case !errors.Is(err, errs.ErrNotFound):
			return Notification{}, err
		}
		if ev.ListingID != "" {
			listing, err := h.Catalog.Listing(ctx, ev.ListingID)
			switch {
			case err == nil && listing.Title != "":
				title += " · " + listing.Title
			case err != nil && !errors.Is(err, errs.ErrNotFound):
				return Notification{}, err
			}
		}
	}
	return Notification{
		Title: title,
		Body:  ev.Preview,
		Tag:   tagPrefix + ev.ConversationID,
	}, nil
}
