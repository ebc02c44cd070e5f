package messaging

import (
	"strings"
	"time"
	"unicode/utf8"

	"campusmarket/internal/domain/shared/errs"
)

const (
	// PageSize is the fixed history page size; a shorter page means no older messages remain.
	PageSize = 50
	// MaxContentRunes bounds message text.
	MaxContentRunes = 4000
	// MaxImageBytes is the upload limit for message images.
	MaxImageBytes = 10 << 20

	previewRunes     = 100
	imagePlaceholder = "📷 Photo"
)

// AllowedImageTypes lists the MIME types accepted for message images.
var AllowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// ImageRef points at a stored image.
type ImageRef struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// ReplyRef is a snapshot of the replied-to message taken at send time.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	Content    string `json:"content"`
	SenderName string `json:"sender_name"`
}

// Attachment is raw image data awaiting upload.
type Attachment struct {
	Data        []byte
	ContentType string
	FileName    string
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        string
	Image          *ImageRef
	CreatedAt      time.Time
	Read           bool
	Reactions      Reactions
	ReplyTo        *ReplyRef
	ClientKey      string
}

// Draft is the caller-controlled part of a new message.
type Draft struct {
	ConversationID string
	SenderID       string
	Content        string
	Image          *ImageRef
	ReplyTo        *ReplyRef
	ClientKey      string
}

// Normalize trims the draft and checks the fields a store cannot enforce.
func (d Draft) Normalize() (Draft, error) {
	d.ConversationID = strings.TrimSpace(d.ConversationID)
	d.SenderID = strings.TrimSpace(d.SenderID)
	d.Content = strings.TrimSpace(d.Content)
	d.ClientKey = strings.TrimSpace(d.ClientKey)
	if d.ConversationID == "" {
		return Draft{}, errs.Validation("conversation id is required")
	}
	if d.SenderID == "" {
		return Draft{}, errs.Validation("sender id is required")
	}
	if d.Content == "" && d.Image == nil {
		return Draft{}, errs.Validation("message needs text or an image")
	}
	if utf8.RuneCountInString(d.Content) > MaxContentRunes {
		return Draft{}, errs.Validationf("message exceeds %d characters", MaxContentRunes)
	}
	if d.Image != nil && strings.TrimSpace(d.Image.URL) == "" {
		return Draft{}, errs.Validation("image url is required")
	}
	return d, nil
}

// NewMessage builds the stored form of a draft.
func NewMessage(id string, d Draft, at time.Time) Message {
	return Message{
		ID:             id,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Image:          d.Image,
		CreatedAt:      at.UTC(),
		Reactions:      Reactions{},
		ReplyTo:        d.ReplyTo,
		ClientKey:      d.ClientKey,
	}
}

// Preview is the conversation list text for a message.
func Preview(content string, hasImage bool) string {
	content = strings.Join(strings.Fields(content), " ")
	if content == "" {
		if hasImage {
			return imagePlaceholder
		}
		return ""
	}
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes]) + "…"
}

// NextTimestamp keeps creation times strictly increasing inside a conversation.
func NextTimestamp(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !last.IsZero() && !now.After(last) {
		return last.UTC().Add(time.Millisecond)
	}
	return now
}

// ValidateAttachment checks declared size and type before any upload is attempted.
func ValidateAttachment(a Attachment) error {
	if len(a.Data) == 0 {
		return errs.Validation("image is empty")
	}
	if len(a.Data) > MaxImageBytes {
		return errs.Validation("image exceeds 10 MB")
	}
	if a.ContentType != "" {
		if _, ok := AllowedImageTypes[normalizeContentType(a.ContentType)]; !ok {
			return errs.Validationf("unsupported image type %q", a.ContentType)
		}
	}
	return nil
}

func normalizeContentType(ct string) string {
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Reply builds a reply snapshot of m.
func (m Message) Reply(senderName string) *ReplyRef {
	content := m.Content
	if content == "" && m.Image != nil {
		content = imagePlaceholder
	}
	return &ReplyRef{
		MessageID:  m.ID,
		SenderID:   m.SenderID,
		Content:    content,
		SenderName: senderName,
	}
}

func (m Message) Clone() Message {
	out := m
	out.Reactions = m.Reactions.Clone()
	if m.Image != nil {
		img := *m.Image
		out.Image = &img
	}
	if m.ReplyTo != nil {
		ref := *m.ReplyTo
		out.ReplyTo = &ref
	}
	return out
}
