package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/model"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 50ms
}

// Publisher is a thin wrapper around segmentio/kafka-go Writer that emits
// email status events keyed by email id.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisherFromConfig(c Config) *Publisher {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 50 * time.Millisecond
	}
	topic := c.Topic
	if topic == "" {
		topic = "email.status"
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same email id -> same partition
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           bt,
		AllowAutoTopicCreation: true,
	}

	return &Publisher{w: w}
}

type Message = kafka.Message

// EncodeStatusEvent builds the Kafka message for ev.
func EncodeStatusEvent(ev model.StatusEvent) (Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Key:   []byte(ev.ID),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("email." + ev.Status.String())},
		},
	}, nil
}

func (p *Publisher) PublishStatus(ctx context.Context, ev model.StatusEvent) error {
	m, err := EncodeStatusEvent(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, m)
}

func (p *Publisher) Close() error { return p.w.Close() }
