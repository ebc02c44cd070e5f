package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	colMessages      = "messages"
	colConversations = "conversations"
	colUsers         = "users"
	colListings      = "listings"
	colSchools       = "schools"
	colReferrals     = "referrals"
)

// Client owns the driver connection. Callers Close it on shutdown.
type Client struct {
	client *mongo.Client
	DB     *mongo.Database
}

// Connect dials uri and pings the primary before returning.
func Connect(ctx context.Context, uri, database string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	opts := options.Client().ApplyURI(uri).SetRetryWrites(true)
	m, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, classify("connect", err)
	}
	if err := m.Ping(ctx, readpref.Primary()); err != nil {
		_ = m.Disconnect(context.Background())
		return nil, classify("ping", err)
	}
	return &Client{client: m, DB: m.Database(database)}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return classify("ping", c.client.Ping(ctx, readpref.Primary()))
}

func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
