package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"emperror.dev/errors"
	"github.com/segmentio/kafka-go"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/model"
)

type Consumer struct {
	readers []*kafka.Reader
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type MessageHandler func(ctx context.Context, event *model.VoteEvent) error

// defaultGroupID is used when kafka.group_id is empty.
const defaultGroupID = "pollbox"

// readerConfigs describes cfg.Workers members of one consumer group. The
// group spreads the topic's partitions over every member of every instance
// and keeps committed offsets, so each event is handled once per group.
func readerConfigs(cfg config.KafkaConfig) []kafka.ReaderConfig {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = defaultGroupID
	}

	configs := make([]kafka.ReaderConfig, workers)
	for i := range configs {
		configs[i] = kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     groupID,
			StartOffset: kafka.FirstOffset, // only for a group without committed offsets
			MinBytes:    10e3,
			MaxBytes:    10e6,
		}
	}
	return configs
}

// NewConsumer joins the consumer group with one reader per worker. Workers
// beyond the partition count stay idle until a rebalance hands them work.
func NewConsumer(cfg config.KafkaConfig) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	configs := readerConfigs(cfg)
	readers := make([]*kafka.Reader, 0, len(configs))
	for _, rc := range configs {
		readers = append(readers, kafka.NewReader(rc))
	}

	logger.WithField("group", configs[0].GroupID).WithField("workers", len(readers)).Info("joined consumer group")

	return &Consumer{
		readers: readers,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// StartConsuming runs one goroutine per reader until Stop.
func (c *Consumer) StartConsuming(handler MessageHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consumeMessages(workerID, r, handler)
		}(i, reader)
	}

	logger.WithField("workers", len(c.readers)).Info("vote event consumers started")
}

func (c *Consumer) consumeMessages(workerID int, reader *kafka.Reader, handler MessageHandler) {
	log := logger.WithField("worker", workerID)

	for {
		m, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("failed to fetch message")
			time.Sleep(time.Second)
			continue
		}

		if err := handleMessage(c.ctx, m, handler); err != nil {
			log.WithError(err).WithField("partition", m.Partition).WithField("offset", m.Offset).Error("vote event dropped")
		}

		// committed after handling: a crash in between replays only this message
		if err := reader.CommitMessages(c.ctx, m); err != nil && c.ctx.Err() == nil {
			log.WithError(err).WithField("partition", m.Partition).WithField("offset", m.Offset).Warn("failed to commit offset")
		}
	}
}

func handleMessage(ctx context.Context, m kafka.Message, handler MessageHandler) error {
	var event model.VoteEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return errors.WrapIf(err, "failed to decode vote event")
	}

	return handler(ctx, &event)
}

func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	for i, reader := range c.readers {
		if err := reader.Close(); err != nil {
			logger.WithError(err).WithField("worker", i).Warn("failed to close reader")
		}
	}

	logger.Info("vote event consumers stopped")
	return nil
}
