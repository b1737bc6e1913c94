package eventbus

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
)

const queueSize = 1024

// Bus mirrors turn store events onto a Watermill topic.
type Bus struct {
	topic      string
	publisher  message.Publisher
	subscriber message.Subscriber
	redis      *redis.Client

	queue chan chat.Event
}

// New builds a Bus from s. With Redis disabled it uses an in-process
// gochannel pub/sub.
func New(s Settings) (*Bus, error) {
	topic := s.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	logger := NewWatermillLogger(log.Logger)
	b := &Bus{topic: topic, queue: make(chan chat.Event, queueSize)}

	if !s.RedisEnabled {
		gc := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: queueSize}, logger)
		b.publisher = gc
		b.subscriber = gc
		return b, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}
	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "create redis subscriber")
	}
	b.publisher = pub
	b.subscriber = sub
	b.redis = client
	return b, nil
}

func (b *Bus) Topic() string {
	return b.topic
}

// EnsureGroupAtTail creates the consumer group at the stream tail ($) so a
// fresh tailer does not replay history. It is a no-op without Redis.
func (b *Bus) EnsureGroupAtTail(ctx context.Context, group string) error {
	if b.redis == nil {
		return nil
	}
	err := b.redis.XGroupCreateMkStream(ctx, b.topic, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", b.topic).Str("group", group).Msg("created redis consumer group at $ (tail)")
	return nil
}

// Attach queues every store event for publishing. The returned func detaches.
// A full queue drops the event rather than stalling store writers.
func (b *Bus) Attach(store *chat.Store) func() {
	return store.Subscribe(func(ev chat.Event) {
		select {
		case b.queue <- ev:
		default:
			log.Warn().Str("component", "eventbus").Uint64("seq", ev.Seq).Msg("event queue full, dropping turn event")
		}
	})
}

// Run publishes queued events in order until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-b.queue:
			if err := b.Publish(ev); err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Uint64("seq", ev.Seq).Msg("publish failed")
			}
		}
	}
}

// Publish sends one event right away.
func (b *Bus) Publish(ev chat.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal turn event")
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("seq", strconv.FormatUint(ev.Seq, 10))
	if ev.Turn.ID != "" {
		msg.Metadata.Set("turn_id", ev.Turn.ID)
	}
	return errors.Wrap(b.publisher.Publish(b.topic, msg), "publish turn event")
}

// Subscribe attaches to the topic and returns decoded events. The channel is
// closed once ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan chat.Event, error) {
	msgs, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to turn events")
	}
	out := make(chan chat.Event, 64)
	go func() {
		defer close(out)
		for msg := range msgs {
			var ev chat.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				log.Warn().Err(err).Str("component", "eventbus").Msg("failed to decode turn event")
				msg.Ack()
				continue
			}
			select {
			case out <- ev:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	err := b.publisher.Close()
	if b.redis != nil {
		if serr := b.subscriber.Close(); serr != nil && err == nil {
			err = serr
		}
		// the redis publisher may already have closed the shared client
		_ = b.redis.Close()
	}
	return errors.Wrap(err, "close event bus")
}
