package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"emperror.dev/errors"
	"github.com/segmentio/kafka-go"

	"github.com/lvdashuaibi/pollbox/config"
	"github.com/lvdashuaibi/pollbox/internal/logging"
	"github.com/lvdashuaibi/pollbox/internal/model"
)

var logger = logging.For("kafka")

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	partitions, err := topicPartitions(context.Background(), cfg)
	if err != nil {
		return nil, err
	}

	logger.WithField("topic", cfg.Topic).WithField("partitions", len(partitions)).Info("producer connected")

	// Hash keeps every event of one question on the same partition.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	return &Producer{writer: writer}, nil
}

// topicPartitions lists the partition ids of the configured topic.
func topicPartitions(ctx context.Context, cfg config.KafkaConfig) ([]int, error) {
	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], cfg.Topic, cfg.Partition)
	if err != nil {
		return nil, errors.WrapIf(err, "failed to connect to kafka")
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, errors.WrapIf(err, "failed to read partitions")
	}

	var ids []int
	for _, p := range partitions {
		if p.Topic == cfg.Topic {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

// voteMessage keys the event by question id.
func voteMessage(event *model.VoteEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, errors.WrapIf(err, "failed to encode vote event")
	}

	return kafka.Message{
		Key:   []byte(strconv.FormatInt(event.QuestionID, 10)),
		Value: data,
		Time:  time.Now(),
	}, nil
}

// SendVoteEvent publishes a stored vote.
func (p *Producer) SendVoteEvent(ctx context.Context, event *model.VoteEvent) error {
	msg, err := voteMessage(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.WrapIf(err, "failed to publish vote event")
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
