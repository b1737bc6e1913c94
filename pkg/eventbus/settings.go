package eventbus

import (
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
)

const (
	SectionSlug  = "events"
	DefaultTopic = "chatstream.turns"
)

// Settings configures the turn event mirror. Without Redis the mirror runs on
// an in-process Watermill channel.
type Settings struct {
	Enabled      bool   `glazed:"events-enabled"`
	Topic        string `glazed:"events-topic"`
	RedisEnabled bool   `glazed:"redis-enabled"`
	Addr         string `glazed:"redis-addr"`
	Group        string `glazed:"redis-group"`
	Consumer     string `glazed:"redis-consumer"`
}

// NewSection returns the glazed section for the event mirror.
func NewSection() (schema.Section, error) {
	return schema.NewSection(
		SectionSlug,
		"Turn event mirror (Watermill, optionally over Redis Streams)",
		schema.WithFields(
			fields.New("events-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Publish every turn store event")),
			fields.New("events-topic", fields.TypeString, fields.WithDefault(DefaultTopic),
				fields.WithHelp("Topic (Redis stream name) for turn events")),
			fields.New("redis-enabled", fields.TypeBool, fields.WithDefault(false),
				fields.WithHelp("Use Redis Streams instead of the in-process channel")),
			fields.New("redis-addr", fields.TypeString, fields.WithDefault("localhost:6379"),
				fields.WithHelp("Redis address host:port")),
			fields.New("redis-group", fields.TypeString, fields.WithDefault("chatstream"),
				fields.WithHelp("Redis consumer group")),
			fields.New("redis-consumer", fields.TypeString, fields.WithDefault("chatstream-1"),
				fields.WithHelp("Redis consumer name")),
		),
	)
}

func DefaultSettings() Settings {
	return Settings{
		Topic:    DefaultTopic,
		Addr:     "localhost:6379",
		Group:    "chatstream",
		Consumer: "chatstream-1",
	}
}
