package kafka

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// Consumer feeds the event topics of a consumer group into a handler,
// normally the Router.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
	logger  *slog.Logger
}

func NewConsumer(brokers []string, groupID string, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{group: group, handler: handler, logger: logger.With("group", groupID)}, nil
}

// Run consumes until ctx ends. Consume returns on every rebalance, so it is
// called in a loop.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	go c.drainErrors()
	session := groupSession{handler: c.handler, logger: c.logger}
	for {
		err := c.group.Consume(ctx, topics, session)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		}
	}
}

func (c *Consumer) drainErrors() {
	for err := range c.group.Errors() {
		c.logger.Warn("kafka consumer error", "error", err)
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type groupSession struct {
	handler MessageHandler
	logger  *slog.Logger
}

func (s groupSession) Setup(sess sarama.ConsumerGroupSession) error {
	s.logger.Info("kafka partitions assigned", "claims", sess.Claims(), "generation", sess.GenerationID())
	return nil
}

func (s groupSession) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks every message, failed or not. The inbox has already
// recorded the event id, so a redelivery would be skipped anyway.
func (s groupSession) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := s.handler.Handle(sess.Context(), msg); err != nil {
				s.logger.Error("event handling failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}
