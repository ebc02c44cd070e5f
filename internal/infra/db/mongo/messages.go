package mongo

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusmarket/internal/domain/messaging"
	"campusmarket/internal/domain/shared/errs"
	"campusmarket/internal/domain/shared/live"
)

// DefaultLiveWindow bounds live message snapshots.
const DefaultLiveWindow = 200

type MessageRepository struct {
	col        *mongo.Collection
	liveWindow int
}

// NewMessageRepository returns a repository whose live snapshots hold the newest
// liveWindow messages; 0 means unbounded.
func NewMessageRepository(db *mongo.Database, liveWindow int) *MessageRepository {
	return &MessageRepository{col: db.Collection(colMessages), liveWindow: liveWindow}
}

func (r *MessageRepository) FetchPage(ctx context.Context, conversationID string, before time.Time, limit int) ([]messaging.Message, error) {
	limit = messaging.ClampLimit(limit)
	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before.UTC()}
	}
	return r.newest(ctx, filter, int64(limit))
}

// newest loads up to limit of the most recent matching messages in chronological order.
func (r *MessageRepository) newest(ctx context.Context, filter bson.M, limit int64) ([]messaging.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, classify("find messages", err)
	}
	msgs, err := decodeAll(ctx, cur, colMessages, messageDocument.toDomain)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// Append inserts msg unless the sender already stored a message with the same
// client key in the conversation, in which case that message is returned.
func (r *MessageRepository) Append(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	if msg.ClientKey != "" {
		existing, err := r.byClientKey(ctx, msg)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return messaging.Message{}, err
		}
	}
	if msg.Reactions == nil {
		msg.Reactions = messaging.Reactions{}
	}
	msg.Read = false
	if _, err := r.col.InsertOne(ctx, newMessageDocument(msg)); err != nil {
		return messaging.Message{}, classify("insert message", err)
	}
	return msg, nil
}

func (r *MessageRepository) byClientKey(ctx context.Context, msg messaging.Message) (messaging.Message, error) {
	filter := bson.M{"conversation_id": msg.ConversationID, "client_key": msg.ClientKey}
	var doc messageDocument
	if err := decodeOne(r.col.FindOne(ctx, filter), colMessages, msg.ClientKey, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return messaging.Message{}, err
		}
		return messaging.Message{}, classify("find message by client key", err)
	}
	if doc.SenderID != msg.SenderID {
		return messaging.Message{}, errs.Conflict("client key already used in this conversation")
	}
	return doc.toDomain()
}

func (r *MessageRepository) ByID(ctx context.Context, messageID string) (messaging.Message, error) {
	var doc messageDocument
	if err := decodeOne(r.col.FindOne(ctx, bson.M{"_id": messageID}), colMessages, messageID, &doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return messaging.Message{}, messaging.ErrMessageNotFound
		}
		return messaging.Message{}, classify("find message", err)
	}
	return doc.toDomain()
}

func (r *MessageRepository) SubscribeLive(ctx context.Context, conversationID string) (live.Subscription[[]messaging.Message], error) {
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"fullDocument.conversation_id": conversationID}}}}
	feed, err := stream(ctx, r.col, pipeline, func(ctx context.Context) ([]messaging.Message, error) {
		return r.newest(ctx, bson.M{"conversation_id": conversationID}, int64(r.liveWindow))
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

// SetReaction applies the change with a guarded update, so a duplicate add or a
// missing remove matches nothing and is reported as a conflict.
func (r *MessageRepository) SetReaction(ctx context.Context, messageID, emoji, userID string, add bool) (messaging.Message, error) {
	if err := messaging.ValidateEmoji(emoji); err != nil {
		return messaging.Message{}, err
	}
	if err := messaging.ValidateUserKey(userID); err != nil {
		return messaging.Message{}, err
	}
	field := "reactions." + emoji
	filter := bson.M{"_id": messageID}
	var update bson.M
	if add {
		filter[field] = bson.M{"$ne": userID}
		update = bson.M{"$addToSet": bson.M{field: userID}}
	} else {
		filter[field] = userID
		update = bson.M{"$pull": bson.M{field: userID}}
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc messageDocument
	err := decodeOne(r.col.FindOneAndUpdate(ctx, filter, update, opts), colMessages, messageID, &doc)
	if err == nil {
		return doc.toDomain()
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return messaging.Message{}, classify("set reaction", err)
	}
	if _, err := r.ByID(ctx, messageID); err != nil {
		return messaging.Message{}, err
	}
	if add {
		return messaging.Message{}, errs.Conflict("reaction already present")
	}
	return messaging.Message{}, errs.Conflict("reaction not present")
}

func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID string, messageIDs []string) (int, error) {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": readerID},
		"read":            false,
	}
	if len(messageIDs) > 0 {
		filter["_id"] = bson.M{"$in": messageIDs}
	}
	res, err := r.col.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, classify("mark messages read", err)
	}
	return int(res.ModifiedCount), nil
}

var _ messaging.MessageRepository = (*MessageRepository)(nil)
