package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EnsureIndexes creates the indexes the repositories query by.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		colMessages: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}},
			{
				Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "client_key", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"client_key": bson.M{"$type": "string"}}),
			},
		},
		colConversations: {
			{Keys: bson.D{{Key: "participants", Value: 1}, {Key: "last_message_at", Value: -1}}},
			{Keys: bson.D{{Key: "listing_id", Value: 1}, {Key: "pair_key", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		colListings: {
			{Keys: bson.D{{Key: "seller_id", Value: 1}}},
			{Keys: bson.D{{Key: "school_id", Value: 1}}},
		},
		colSchools: {
			{Keys: bson.D{{Key: "state", Value: 1}}},
		},
		colUsers: {
			{
				Keys: bson.D{{Key: "referral_code", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"referral_code": bson.M{"$type": "string"}}),
			},
		},
	}
	for name, models := range specs {
		if _, err := c.DB.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return classify("create indexes on "+name, err)
		}
	}
	return nil
}
