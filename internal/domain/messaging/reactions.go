package messaging

import (
	"strings"

	"campusmarket/internal/domain/shared/errs"
)

const maxEmojiBytes = 32

// Reactions maps an emoji to the users who reacted with it. Each user appears at most once per emoji.
type Reactions map[string][]string

func (r Reactions) Has(emoji, userID string) bool {
	for _, id := range r[emoji] {
		if id == userID {
			return true
		}
	}
	return false
}

// With returns a copy that includes userID under emoji.
func (r Reactions) With(emoji, userID string) Reactions {
	out := r.Clone()
	if out.Has(emoji, userID) {
		return out
	}
	out[emoji] = append(out[emoji], userID)
	return out
}

// Without returns a copy with userID removed from emoji. Empty sets are dropped.
func (r Reactions) Without(emoji, userID string) Reactions {
	out := r.Clone()
	users := out[emoji]
	kept := users[:0]
	for _, id := range users {
		if id != userID {
			kept = append(kept, id)
		}
	}
	if len(kept) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = kept
	}
	return out
}

// Apply adds or removes a reaction, rejecting no-op changes with a conflict.
func (r Reactions) Apply(emoji, userID string, add bool) (Reactions, error) {
	present := r.Has(emoji, userID)
	switch {
	case add && present:
		return nil, errs.Conflict("reaction already present")
	case !add && !present:
		return nil, errs.Conflict("reaction not present")
	case add:
		return r.With(emoji, userID), nil
	default:
		return r.Without(emoji, userID), nil
	}
}

func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, users := range r {
		if len(users) == 0 {
			continue
		}
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// Count is the number of users under emoji.
func (r Reactions) Count(emoji string) int {
	return len(r[emoji])
}

// ValidateEmoji rejects keys that cannot be stored as document field names.
func ValidateEmoji(emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return errs.Validation("emoji is required")
	}
	if len(emoji) > maxEmojiBytes {
		return errs.Validation("emoji is too long")
	}
	if strings.ContainsAny(emoji, ".$") {
		return errs.Validation("emoji contains reserved characters")
	}
	return nil
}

// ValidateUserKey rejects user ids that cannot be used as map keys in stored documents.
func ValidateUserKey(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errs.Validation("user id is required")
	}
	if strings.ContainsAny(userID, ".$") {
		return errs.Validation("user id contains reserved characters")
	}
	return nil
}
