package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"campusmarket/internal/domain/shared/live"
)

// changeCursor is the part of *mongo.ChangeStream the feed loop reads.
type changeCursor interface {
	Next(ctx context.Context) bool
	Err() error
	Close(ctx context.Context) error
}

// stream publishes load's result, then reloads and republishes on every change
// event matching pipeline. The feed closes when ctx ends or the caller closes it;
// a broken change stream fails the feed with a classified error.
func stream[T any](ctx context.Context, col *mongo.Collection, pipeline mongo.Pipeline, load func(context.Context) (T, error)) (*live.Feed[T], error) {
	watch := func(ctx context.Context) (changeCursor, error) {
		cs, err := col.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
		if err != nil {
			return nil, classify("watch "+col.Name(), err)
		}
		return cs, nil
	}
	return follow(ctx, col.Name(), watch, load)
}

// follow opens the change cursor before the first load so writes landing
// between the two still trigger a reload.
func follow[T any](ctx context.Context, name string, watch func(context.Context) (changeCursor, error), load func(context.Context) (T, error)) (*live.Feed[T], error) {
	// fresh root: ctx may carry a session whose transaction ends before the stream
	streamCtx, cancel := context.WithCancel(context.Background())
	cs, err := watch(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	initial, err := load(streamCtx)
	if err != nil {
		_ = cs.Close(context.Background())
		cancel()
		return nil, err
	}
	feed := live.NewFeed[T](cancel)
	feed.Publish(initial)

	go func() {
		select {
		case <-ctx.Done():
			feed.Close()
		case <-feed.Done():
		}
	}()
	go func() {
		defer cs.Close(context.Background())
		for cs.Next(streamCtx) {
			snapshot, err := load(streamCtx)
			if err != nil {
				if streamCtx.Err() == nil {
					feed.Fail(err)
				}
				return
			}
			feed.Publish(snapshot)
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil && !errors.Is(err, context.Canceled) {
			feed.Fail(classify("change stream "+name, err))
			return
		}
		feed.Close()
	}()
	return feed, nil
}
