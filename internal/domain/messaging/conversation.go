package messaging

import (
	"strings"
	"time"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/shared/errs"
)

type Conversation struct {
	ID            string
	Participants  []string
	ListingID     string
	LastMessage   string
	LastMessageAt time.Time
	UnreadCount   map[string]int
	CreatedAt     time.Time
}

// ConversationDetails adds the read-time lookups shown in a conversation header.
type ConversationDetails struct {
	Conversation
	ListingTitle string
	Peer         catalog.Profile
}

// NewConversation validates participants and starts every unread counter at zero.
func NewConversation(id, listingID string, participants []string, at time.Time) (Conversation, error) {
	if len(participants) != 2 {
		return Conversation{}, errs.Validation("conversation needs exactly two participants")
	}
	a, b := strings.TrimSpace(participants[0]), strings.TrimSpace(participants[1])
	if err := ValidateUserKey(a); err != nil {
		return Conversation{}, err
	}
	if err := ValidateUserKey(b); err != nil {
		return Conversation{}, err
	}
	if a == b {
		return Conversation{}, errs.Validation("cannot start a conversation with yourself")
	}
	return Conversation{
		ID:           id,
		Participants: []string{a, b},
		ListingID:    strings.TrimSpace(listingID),
		UnreadCount:  map[string]int{a: 0, b: 0},
		CreatedAt:    at.UTC(),
	}, nil
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// Peer returns the participant that is not userID.
func (c Conversation) Peer(userID string) string {
	for _, p := range c.Participants {
		if p != userID {
			return p
		}
	}
	return ""
}

func (c Conversation) UnreadFor(userID string) int {
	return c.UnreadCount[userID]
}

// TotalUnread sums all counters.
func (c Conversation) TotalUnread() int {
	total := 0
	for _, n := range c.UnreadCount {
		total += n
	}
	return total
}

// ParticipantsKey identifies a participant pair independent of order.
func ParticipantsKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		out.UnreadCount[k] = v
	}
	return out
}
