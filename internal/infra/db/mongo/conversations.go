package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusmarket/internal/domain/catalog"
	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
)

type ConversationRepository struct {
	col     *mongo.Collection
	catalog catalog.Reader
}

// NewConversationRepository resolves listing titles and peer profiles through reader.
func NewConversationRepository(db *mongo.Database, reader catalog.Reader) *ConversationRepository {
	return &ConversationRepository{col: db.Collection(colConversations), catalog: reader}
}

func (r *ConversationRepository) ByID(ctx context.Context, conversationID string) (messaging.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": conversationID}, conversationID)
}

func (r *ConversationRepository) findOne(ctx context.Context, filter bson.M, id string) (messaging.Conversation, error) {
	var doc conversationDocument
	if err := decodeOne(r.col.FindOne(ctx, filter), colConversations, id, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return messaging.Conversation{}, messaging.ErrConversationNotFound
		}
		return messaging.Conversation{}, classify("find conversation", err)
	}
	return doc.toDomain()
}

func (r *ConversationRepository) Get(ctx context.Context, conversationID, viewerID string) (messaging.ConversationDetails, error) {
	conv, err := r.ByID(ctx, conversationID)
	if err != nil {
		return messaging.ConversationDetails{}, err
	}
	details := messaging.ConversationDetails{Conversation: conv}
	if conv.ListingID != "" {
		listing, err := r.catalog.Listing(ctx, conv.ListingID)
		switch {
		case err == nil:
			details.ListingTitle = listing.Title
		case !errors.Is(err, errs.ErrNotFound):
			return messaging.ConversationDetails{}, err
		}
	}
	peerID := conv.Peer(viewerID)
	details.Peer = catalog.Profile{ID: peerID}
	peer, err := r.catalog.Profile(ctx, peerID)
	switch {
	case err == nil:
		details.Peer = peer
	case !errors.Is(err, errs.ErrNotFound):
		return messaging.ConversationDetails{}, err
	}
	return details, nil
}

func (r *ConversationRepository) List(ctx context.Context, userID string, limit int) ([]messaging.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, classify("find conversations", err)
	}
	return decodeAll(ctx, cur, colConversations, conversationDocument.toDomain)
}

func (r *ConversationRepository) SubscribeList(ctx context.Context, userID string) (live.Subscription[[]messaging.Conversation], error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"fullDocument.participants": userID}}}}
	feed, err := stream(ctx, r.col, pipeline, func(ctx context.Context) ([]messaging.Conversation, error) {
		return r.List(ctx, userID, 0)
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

func (r *ConversationRepository) Subscribe(ctx context.Context, conversationID string) (live.Subscription[messaging.Conversation], error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": conversationID}}}}
	feed, err := stream(ctx, r.col, pipeline, func(ctx context.Context) (messaging.Conversation, error) {
		return r.ByID(ctx, conversationID)
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// GetOrCreate relies on the unique (listing_id, pair_key) index: losing an
// insert race reads back the winner.
func (r *ConversationRepository) GetOrCreate(ctx context.Context, candidate messaging.Conversation) (messaging.Conversation, bool, error) {
	if len(candidate.Participants) != 2 {
		return messaging.Conversation{}, false, errs.Validation("conversation needs exactly two participants")
	}
	doc := newConversationDocument(candidate)
	filter := bson.M{"listing_id": doc.ListingID, "pair_key": doc.PairKey}
	existing, err := r.findOne(ctx, filter, doc.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, messaging.ErrConversationNotFound) {
		return messaging.Conversation{}, false, err
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, findErr := r.findOne(ctx, filter, doc.ID)
			return existing, false, findErr
		}
		return messaging.Conversation{}, false, classify("insert conversation", err)
	}
	return candidate.Clone(), true, nil
}

func (r *ConversationRepository) TouchOnSend(ctx context.Context, conversationID, preview, recipientID string, at time.Time) (messaging.Conversation, error) {
	set := bson.M{"last_message": preview, "last_message_at": at.UTC()}
	update := bson.M{"$set": set}
	if recipientID != "" {
		if err := messaging.ValidateUserKey(recipientID); err != nil {
			return messaging.Conversation{}, err
		}
		update["$inc"] = bson.M{"unread_count." + recipientID: 1}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc conversationDocument
	if err := decodeOne(r.col.FindOneAndUpdate(ctx, bson.M{"_id": conversationID}, update, opts), colConversations, conversationID, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return messaging.Conversation{}, messaging.ErrConversationNotFound
		}
		return messaging.Conversation{}, classify("touch conversation", err)
	}
	return doc.toDomain()
}

func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, userID string) error {
	if err := messaging.ValidateUserKey(userID); err != nil {
		return err
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": conversationID}, bson.M{"$set": bson.M{"unread_count." + userID: 0}})
	if err != nil {
		return classify("mark conversation read", err)
	}
	if res.MatchedCount == 0 {
		return messaging.ErrConversationNotFound
	}
	return nil
}

var _ messaging.ConversationRepository = (*ConversationRepository)(nil)
