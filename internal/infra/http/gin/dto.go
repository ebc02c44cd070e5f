package ginserver

import (
	"time"

	"campusmarket/internal/app/chatsync"
	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/messaging"
)

type messageDTO struct {
	ID             string              `json:"id,omitempty"`
	ConversationID string              `json:"conversation_id"`
	SenderID       string              `json:"sender_id"`
	Content        string              `json:"content"`
	Image          *messaging.ImageRef `json:"image,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Read           bool                `json:"read"`
	Reactions      map[string][]string `json:"reactions"`
	ReplyTo        *messaging.ReplyRef `json:"reply_to,omitempty"`
	ClientKey      string              `json:"client_key,omitempty"`
	Status         string              `json:"status,omitempty"`
}

type conversationDTO struct {
	ID            string         `json:"id"`
	Participants  []string       `json:"participants"`
	ListingID     string         `json:"listing_id"`
	LastMessage   string         `json:"last_message"`
	LastMessageAt time.Time      `json:"last_message_at"`
	UnreadCount   map[string]int `json:"unread_count"`
	CreatedAt     time.Time      `json:"created_at"`
}

type conversationDetailsDTO struct {
	conversationDTO
	ListingTitle string          `json:"listing_title,omitempty"`
	Peer         catalog.Profile `json:"peer"`
}

type messagePageDTO struct {
	Items   []messageDTO `json:"items"`
	HasMore bool         `json:"has_more"`
	Cursor  *time.Time   `json:"cursor,omitempty"`
}

type viewDTO struct {
	State        string                 `json:"state"`
	Conversation conversationDetailsDTO `json:"conversation"`
	Messages     []messageDTO           `json:"messages"`
	Clusters     []messaging.Cluster    `json:"clusters"`
	CanLoadOlder bool                   `json:"can_load_older"`
	LoadingOlder bool                   `json:"loading_older"`
}

func toMessageDTO(m messaging.Message) messageDTO {
	out := messageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Image:          m.Image,
		CreatedAt:      m.CreatedAt,
		Read:           m.Read,
		Reactions:      map[string][]string(m.Reactions.Clone()),
		ReplyTo:        m.ReplyTo,
		ClientKey:      m.ClientKey,
	}
	if out.Reactions == nil {
		out.Reactions = map[string][]string{}
	}
	return out
}

func toMessageDTOs(msgs []messaging.Message) []messageDTO {
	out := make([]messageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m))
	}
	return out
}

func toConversationDTO(c messaging.Conversation) conversationDTO {
	unread := make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		unread[k] = v
	}
	return conversationDTO{
		ID:            c.ID,
		Participants:  append([]string(nil), c.Participants...),
		ListingID:     c.ListingID,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		UnreadCount:   unread,
		CreatedAt:     c.CreatedAt,
	}
}

func toConversationDTOs(convs []messaging.Conversation) []conversationDTO {
	out := make([]conversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationDTO(c))
	}
	return out
}

func toDetailsDTO(d messaging.ConversationDetails) conversationDetailsDTO {
	return conversationDetailsDTO{
		conversationDTO: toConversationDTO(d.Conversation),
		ListingTitle:    d.ListingTitle,
		Peer:            d.Peer,
	}
}

func toViewDTO(v chatsync.View) viewDTO {
	msgs := make([]messageDTO, 0, len(v.Entries))
	for _, e := range v.Entries {
		dto := toMessageDTO(e.Message)
		dto.Status = string(e.Status)
		msgs = append(msgs, dto)
	}
	return viewDTO{
		State:        v.State.String(),
		Conversation: toDetailsDTO(v.Conversation),
		Messages:     msgs,
		Clusters:     v.Clusters,
		CanLoadOlder: v.CanLoadOlder,
		LoadingOlder: v.LoadingOlder,
	}
}
