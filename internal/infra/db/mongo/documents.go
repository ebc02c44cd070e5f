package mongo

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
)

var (
	errMissingField = errors.New("required field missing")
	errBadValue     = errors.New("field has an invalid value")
)

type imageDocument struct {
	URL         string `bson:"url"`
	Key         string `bson:"key"`
	ContentType string `bson:"content_type"`
	Size        int64  `bson:"size"`
}

type replyDocument struct {
	MessageID  string `bson:"message_id"`
	SenderID   string `bson:"sender_id"`
	Content    string `bson:"content"`
	SenderName string `bson:"sender_name"`
}

type messageDocument struct {
	ID             string              `bson:"_id"`
	ConversationID string              `bson:"conversation_id"`
	SenderID       string              `bson:"sender_id"`
	Content        string              `bson:"content"`
	Image          *imageDocument      `bson:"image,omitempty"`
	CreatedAt      time.Time           `bson:"created_at"`
	Read           bool                `bson:"read"`
	Reactions      map[string][]string `bson:"reactions"`
	ReplyTo        *replyDocument      `bson:"reply_to,omitempty"`
	ClientKey      string              `bson:"client_key,omitempty"`
}

func newMessageDocument(m messaging.Message) messageDocument {
	doc := messageDocument{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UTC(),
		Read:           m.Read,
		Reactions:      map[string][]string(m.Reactions.Clone()),
		ClientKey:      m.ClientKey,
	}
	if m.Image != nil {
		doc.Image = &imageDocument{URL: m.Image.URL, Key: m.Image.Key, ContentType: m.Image.ContentType, Size: m.Image.Size}
	}
	if m.ReplyTo != nil {
		doc.ReplyTo = &replyDocument{MessageID: m.ReplyTo.MessageID, SenderID: m.ReplyTo.SenderID, Content: m.ReplyTo.Content, SenderName: m.ReplyTo.SenderName}
	}
	return doc
}

func (d messageDocument) toDomain() (messaging.Message, error) {
	if d.ID == "" || d.ConversationID == "" || d.SenderID == "" || d.CreatedAt.IsZero() {
		return messaging.Message{}, corrupt(colMessages, d.ID, errMissingField)
	}
	if d.Content == "" && d.Image == nil {
		return messaging.Message{}, corrupt(colMessages, d.ID, errBadValue)
	}
	m := messaging.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		CreatedAt:      d.CreatedAt.UTC(),
		Read:           d.Read,
		Reactions:      messaging.Reactions(d.Reactions).Clone(),
		ClientKey:      d.ClientKey,
	}
	if d.Image != nil {
		if d.Image.URL == "" {
			return messaging.Message{}, corrupt(colMessages, d.ID, errMissingField)
		}
		m.Image = &messaging.ImageRef{URL: d.Image.URL, Key: d.Image.Key, ContentType: d.Image.ContentType, Size: d.Image.Size}
	}
	if d.ReplyTo != nil {
		m.ReplyTo = &messaging.ReplyRef{MessageID: d.ReplyTo.MessageID, SenderID: d.ReplyTo.SenderID, Content: d.ReplyTo.Content, SenderName: d.ReplyTo.SenderName}
	}
	return m, nil
}

type conversationDocument struct {
	ID            string         `bson:"_id"`
	Participants  []string       `bson:"participants"`
	PairKey       string         `bson:"pair_key"`
	ListingID     string         `bson:"listing_id"`
	LastMessage   string         `bson:"last_message"`
	LastMessageAt time.Time      `bson:"last_message_at"`
	UnreadCount   map[string]int `bson:"unread_count"`
	CreatedAt     time.Time      `bson:"created_at"`
}

func newConversationDocument(c messaging.Conversation) conversationDocument {
	unread := make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		unread[k] = v
	}
	return conversationDocument{
		ID:            c.ID,
		Participants:  append([]string(nil), c.Participants...),
		PairKey:       messaging.ParticipantsKey(c.Participants[0], c.Participants[1]),
		ListingID:     c.ListingID,
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt.UTC(),
		UnreadCount:   unread,
		CreatedAt:     c.CreatedAt.UTC(),
	}
}

func (d conversationDocument) toDomain() (messaging.Conversation, error) {
	if d.ID == "" || d.CreatedAt.IsZero() {
		return messaging.Conversation{}, corrupt(colConversations, d.ID, errMissingField)
	}
	if len(d.Participants) != 2 || d.Participants[0] == d.Participants[1] {
		return messaging.Conversation{}, corrupt(colConversations, d.ID, errBadValue)
	}
	unread := make(map[string]int, len(d.UnreadCount))
	for user, n := range d.UnreadCount {
		if n < 0 {
			return messaging.Conversation{}, corrupt(colConversations, d.ID, errBadValue)
		}
		unread[user] = n
	}
	return messaging.Conversation{
		ID:            d.ID,
		Participants:  append([]string(nil), d.Participants...),
		ListingID:     d.ListingID,
		LastMessage:   d.LastMessage,
		LastMessageAt: d.LastMessageAt.UTC(),
		UnreadCount:   unread,
		CreatedAt:     d.CreatedAt.UTC(),
	}, nil
}

type profileDocument struct {
	ID            string `bson:"_id"`
	DisplayName   string `bson:"display_name"`
	AvatarURL     string `bson:"avatar_url,omitempty"`
	SchoolID      string `bson:"school_id,omitempty"`
	ReferralCode  string `bson:"referral_code,omitempty"`
	ReferredBy    string `bson:"referred_by,omitempty"`
	ReferralCount int    `bson:"referral_count"`
}

func (d profileDocument) toDomain() (catalog.Profile, error) {
	if d.ID == "" {
		return catalog.Profile{}, corrupt(colUsers, d.ID, errMissingField)
	}
	if d.ReferralCount < 0 {
		return catalog.Profile{}, corrupt(colUsers, d.ID, errBadValue)
	}
	return catalog.Profile{
		ID:            d.ID,
		DisplayName:   d.DisplayName,
		AvatarURL:     d.AvatarURL,
		SchoolID:      d.SchoolID,
		ReferralCode:  d.ReferralCode,
		ReferredBy:    d.ReferredBy,
		ReferralCount: d.ReferralCount,
	}, nil
}

type listingDocument struct {
	ID         string `bson:"_id"`
	Title      string `bson:"title"`
	SellerID   string `bson:"seller_id"`
	SchoolID   string `bson:"school_id,omitempty"`
	PriceCents int64  `bson:"price_cents"`
	Status     string `bson:"status"`
}

func (d listingDocument) toDomain() (catalog.Listing, error) {
	if d.ID == "" || d.SellerID == "" {
		return catalog.Listing{}, corrupt(colListings, d.ID, errMissingField)
	}
	status := catalog.ListingStatus(d.Status)
	if !status.Valid() || d.PriceCents < 0 {
		return catalog.Listing{}, corrupt(colListings, d.ID, errBadValue)
	}
	return catalog.Listing{
		ID:         d.ID,
		Title:      d.Title,
		SellerID:   d.SellerID,
		SchoolID:   d.SchoolID,
		PriceCents: d.PriceCents,
		Status:     status,
	}, nil
}

type schoolDocument struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	State       string    `bson:"state"`
	MemberCount int       `bson:"member_count"`
	Admins      []string  `bson:"admins"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d schoolDocument) toDomain() (communities.School, error) {
	if d.ID == "" || strings.TrimSpace(d.State) == "" {
		return communities.School{}, corrupt(colSchools, d.ID, errMissingField)
	}
	if d.MemberCount < 0 {
		return communities.School{}, corrupt(colSchools, d.ID, errBadValue)
	}
	return communities.School{
		ID:          d.ID,
		Name:        d.Name,
		State:       communities.NormalizeState(d.State),
		MemberCount: d.MemberCount,
		Admins:      append([]string(nil), d.Admins...),
		CreatedAt:   d.CreatedAt.UTC(),
	}, nil
}

type referralDocument struct {
	ReferredUserID string    `bson:"_id"`
	ReferrerID     string    `bson:"referrer_id"`
	Code           string    `bson:"code"`
	CreatedAt      time.Time `bson:"created_at"`
}

// decodeOne decodes a single result into doc, reporting type mismatches as corrupt data.
func decodeOne[D any](res *mongo.SingleResult, collection, id string, doc *D) error {
	raw, err := res.Raw()
	if err != nil {
		return err
	}
	if err := bson.Unmarshal(raw, doc); err != nil {
		return corrupt(collection, id, err)
	}
	return nil
}

// decodeAll drains cur, converting every document with toDomain.
func decodeAll[D any, T any](ctx context.Context, cur *mongo.Cursor, collection string, toDomain func(D) (T, error)) ([]T, error) {
	defer cur.Close(ctx)
	var out []T
	for cur.Next(ctx) {
		var doc D
		if err := cur.Decode(&doc); err != nil {
			id, _ := cur.Current.Lookup("_id").StringValueOK()
			return nil, corrupt(collection, id, err)
		}
		v, err := toDomain(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := cur.Err(); err != nil {
		return nil, classify("iterate "+collection, err)
	}
	return out, nil
}
