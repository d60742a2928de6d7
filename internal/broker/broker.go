// Package broker is the message-broker collaborator: per organisation
// subjects carrying scan-profile mutations, raw-data notifications, and
// normalizer-completion notifications. It models a "pull one message,
// non-blocking, ack after success" contract over Redis Streams via
// redis/go-redis/v9 rather than an AMQP client.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/observability"
)

// Subject names, one set per organisation.
const (
	SubjectScanProfileMutations = "scan_profile_mutations"
	SubjectRawFileReceived      = "raw_file_received"
	SubjectNormalizerMeta       = "normalizer_meta_received"
)

// Consumer pulls one message at a time from a subject and acks it only
// after the caller has finished processing it successfully — a
// caller-driven pull rather than a push-style Publisher/Subscriber.
type Consumer interface {
	// Pull fetches at most one pending message for org's subject, without
	// blocking. Returns (nil, nil) when nothing is available.
	Pull(ctx context.Context, org, subject string) (*Message, error)
	// Ack acknowledges successful processing of a message previously
	// returned by Pull.
	Ack(ctx context.Context, org, subject string, msg *Message) error
}

// Message is one broker delivery: a JSON payload plus enough metadata to
// ack it.
type Message struct {
	ID      string
	Payload []byte
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

const consumerGroup = "mula"

// RedisConsumer implements Consumer over Redis Streams: one stream key per
// (org, subject), consumer-group reads so unacked messages are never lost
// on restart, XACK only after the caller confirms success.
type RedisConsumer struct {
	client *redis.Client
}

// NewRedisConsumer connects to addr (grounded on store/redis.go's
// redis.NewClient(&redis.Options{...}) construction).
func NewRedisConsumer(addr, password string, db int) (*RedisConsumer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, model.NewError("broker.NewRedisConsumer", model.KindBrokerUnavailable, err)
	}

	return &RedisConsumer{client: client}, nil
}

func streamKey(org, subject string) string {
	return org + "__" + subject
}

func (c *RedisConsumer) ensureGroup(ctx context.Context, key string) error {
	err := c.client.XGroupCreateMkStream(ctx, key, consumerGroup, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Pull reads at most one new message from org's subject stream. The read
// sends no BLOCK option (Block: -1; go-redis would send Block: 0 as BLOCK 0,
// which waits indefinitely), so it returns immediately whether or not a
// message was waiting.
func (c *RedisConsumer) Pull(ctx context.Context, org, subject string) (*Message, error) {
	key := streamKey(org, subject)
	if err := c.ensureGroup(ctx, key); err != nil {
		return nil, model.NewError("broker.Pull", model.KindBrokerUnavailable, err)
	}

	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    consumerGroup,
		Consumer: "mula-scheduler",
		Streams:  []string{key, ">"},
		Count:    1,
		Block:    -1,
		NoAck:    false,
	}).Result()
	if err == redis.Nil {
		observability.BrokerPullTotal.WithLabelValues(subject, "empty").Inc()
		return nil, nil
	}
	if err != nil {
		observability.BrokerPullTotal.WithLabelValues(subject, "error").Inc()
		return nil, model.NewError("broker.Pull", model.KindBrokerUnavailable, err)
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		observability.BrokerPullTotal.WithLabelValues(subject, "empty").Inc()
		return nil, nil
	}

	entry := res[0].Messages[0]
	raw, _ := entry.Values["payload"].(string)
	observability.BrokerPullTotal.WithLabelValues(subject, "message").Inc()
	return &Message{ID: entry.ID, Payload: []byte(raw)}, nil
}

// Ack acknowledges msg on org's subject stream.
func (c *RedisConsumer) Ack(ctx context.Context, org, subject string, msg *Message) error {
	key := streamKey(org, subject)
	if err := c.client.XAck(ctx, key, consumerGroup, msg.ID).Err(); err != nil {
		return model.NewError("broker.Ack", model.KindBrokerUnavailable, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *RedisConsumer) Close() error {
	return c.client.Close()
}
