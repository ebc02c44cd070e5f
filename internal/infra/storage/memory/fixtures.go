package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/communities"
	"campusmarket/internal/domain/messaging"
)

// Fixtures is the seed data loaded in memory mode.
type Fixtures struct {
	Users         []catalog.Profile     `json:"users"`
	Listings      []catalog.Listing     `json:"listings"`
	Schools       []fixtureSchool       `json:"schools"`
	Conversations []fixtureConversation `json:"conversations"`
}

type fixtureSchool struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	State  string   `json:"state"`
	Admins []string `json:"admins"`
}

type fixtureConversation struct {
	ID        string           `json:"id"`
	ListingID string           `json:"listing_id"`
	Buyer     string           `json:"buyer_id"`
	Messages  []fixtureMessage `json:"messages"`
}

type fixtureMessage struct {
	ID       string `json:"id"`
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
	Read     bool   `json:"read"`
	// MinutesAgo places the message relative to load time.
	MinutesAgo int `json:"minutes_ago"`
}

// LoadFixtures reads a fixtures file.
func LoadFixtures(path string) (Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Fixtures{}, fmt.Errorf("read fixtures: %w", err)
	}
	var fx Fixtures
	if err := json.Unmarshal(raw, &fx); err != nil {
		return Fixtures{}, fmt.Errorf("decode fixtures %s: %w", path, err)
	}
	return fx, nil
}

// Seed loads fixtures into the store. Member counters and conversation
// previews are derived from the data rather than trusted from the file.
func (s *Store) Seed(fx Fixtures) error {
	now := s.now().UTC()
	for _, sc := range fx.Schools {
		s.PutSchool(communities.School{
			ID:        sc.ID,
			Name:      sc.Name,
			State:     communities.NormalizeState(sc.State),
			Admins:    sc.Admins,
			CreatedAt: now,
		})
	}
	for _, u := range fx.Users {
		s.PutProfile(u)
	}
	for _, l := range fx.Listings {
		if !l.Status.Valid() {
			return fmt.Errorf("listing %s: invalid status %q", l.ID, l.Status)
		}
		s.PutListing(l)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.profiles {
		if school, ok := s.schools[u.SchoolID]; ok {
			school.MemberCount++
			s.schools[u.SchoolID] = school
		}
	}
	for _, fc := range fx.Conversations {
		listing, ok := s.listings[fc.ListingID]
		if !ok {
			return fmt.Errorf("conversation %s: unknown listing %s", fc.ID, fc.ListingID)
		}
		conv, err := messaging.NewConversation(fc.ID, listing.ID, []string{fc.Buyer, listing.SellerID}, now.Add(-24*time.Hour))
		if err != nil {
			return fmt.Errorf("conversation %s: %w", fc.ID, err)
		}
		s.conversations[conv.ID] = conv
		for _, fm := range fc.Messages {
			if !conv.HasParticipant(fm.SenderID) {
				return fmt.Errorf("message %s: sender %s is not a participant", fm.ID, fm.SenderID)
			}
			at := now.Add(-time.Duration(fm.MinutesAgo) * time.Minute).Truncate(time.Millisecond)
			msg := messaging.NewMessage(fm.ID, messaging.Draft{ConversationID: conv.ID, SenderID: fm.SenderID, Content: fm.Content}, at)
			msg.Read = fm.Read
			s.insertMessage(msg)
			conv.LastMessage = messaging.Preview(msg.Content, false)
			conv.LastMessageAt = at
			if !fm.Read {
				conv.UnreadCount[conv.Peer(fm.SenderID)]++
			}
		}
		s.conversations[conv.ID] = conv
	}
	return nil
}

func (s *Store) PutProfile(p catalog.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

func (s *Store) PutListing(l catalog.Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

func (s *Store) PutSchool(school communities.School) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schools[school.ID] = cloneSchool(school)
}

// PutConversation stores c as is, replacing any conversation with the same id.
func (s *Store) PutConversation(c messaging.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[c.ID] = c.Clone()
	s.broadcastConversation(c.ID)
}

// PutMessage stores m without touching its conversation.
func (s *Store) PutMessage(m messaging.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Reactions == nil {
		m.Reactions = messaging.Reactions{}
	}
	s.insertMessage(m.Clone())
	s.broadcastMessages(m.ConversationID)
}
