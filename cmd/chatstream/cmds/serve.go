package cmds

import (
	"context"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/eventbus"
	"github.com/go-go-golems/chatstream/pkg/webui"
)

type ServeCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.BareCommand = (*ServeCommand)(nil)

type ServeSettings struct {
	Addr           string `glazed:"addr"`
	HealthInterval int    `glazed:"health-interval"`
	EventsLog      bool   `glazed:"events-log"`
}

func NewServeCommand() (*ServeCommand, error) {
	sections, err := buildSections(chat.NewSettingsSection, backend.NewSection, eventbus.NewSection)
	if err != nil {
		return nil, errors.Wrap(err, "build sections")
	}
	return &ServeCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"serve",
			glazed_cmds.WithShort("Serve the browser chat UI"),
			glazed_cmds.WithFlags(
				fields.New("addr", fields.TypeString,
					fields.WithHelp("Listen address"),
					fields.WithDefault(":8080")),
				fields.New("health-interval", fields.TypeInteger,
					fields.WithHelp(healthIntervalHelp),
					fields.WithDefault(0)),
				fields.New("events-log", fields.TypeBool,
					fields.WithHelp("Log every mirrored turn event (needs --events-enabled)"),
					fields.WithDefault(false)),
			),
			glazed_cmds.WithSections(sections...),
		),
	}, nil
}

func (c *ServeCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ServeSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode serve settings")
	}
	rt, err := newRuntime(parsed)
	if err != nil {
		return err
	}
	evs, err := decodeEvents(parsed)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bus *eventbus.Bus
	var events <-chan chat.Event
	if evs.Enabled {
		bus, err = eventbus.New(evs)
		if err != nil {
			return errors.Wrap(err, "create event bus")
		}
		defer func() {
			if err := bus.Close(); err != nil {
				log.Warn().Err(err).Msg("event bus close failed")
			}
		}()
		if s.EventsLog {
			if err := bus.EnsureGroupAtTail(runCtx, evs.Group); err != nil {
				return err
			}
			if events, err = bus.Subscribe(runCtx); err != nil {
				return err
			}
		}
		defer bus.Attach(rt.conv.Store())()
		log.Info().Str("topic", bus.Topic()).Bool("redis", evs.RedisEnabled).Msg("mirroring turn events")
	}

	poller := rt.poller(s.HealthInterval)
	hub := webui.NewHub(rt.conv, webui.WithPoller(poller))
	srv := webui.NewServer(s.Addr, hub)

	eg, egCtx := errgroup.WithContext(runCtx)
	eg.Go(func() error { return poller.Run(egCtx) })
	eg.Go(func() error { return srv.Run(egCtx) })
	if bus != nil {
		eg.Go(func() error { return bus.Run(egCtx) })
	}
	if events != nil {
		eg.Go(func() error {
			for {
				select {
				case <-egCtx.Done():
					return nil
				case ev, ok := <-events:
					if !ok {
						return nil
					}
					log.Info().Str("component", "events").Str("topic", bus.Topic()).
						Uint64("seq", ev.Seq).Str("kind", string(ev.Kind)).
						Str("turn_id", ev.Turn.ID).Int("delta_len", len(ev.Delta)).
						Msg("turn event")
				}
			}
		})
	}

	err = eg.Wait()
	rt.conv.Cancel()
	return err
}
