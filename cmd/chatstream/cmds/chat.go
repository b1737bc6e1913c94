package cmds

import (
	"context"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/tui"
)

type ChatCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.BareCommand = (*ChatCommand)(nil)

type ChatSettings struct {
	HealthInterval int `glazed:"health-interval"`
}

func NewChatCommand() (*ChatCommand, error) {
	sections, err := buildSections(chat.NewSettingsSection, backend.NewSection)
	if err != nil {
		return nil, errors.Wrap(err, "build sections")
	}
	return &ChatCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"chat",
			glazed_cmds.WithShort("Interactive chat in the terminal"),
			glazed_cmds.WithFlags(
				fields.New("health-interval", fields.TypeInteger,
					fields.WithHelp(healthIntervalHelp),
					fields.WithDefault(0)),
			),
			glazed_cmds.WithSections(sections...),
		),
	}, nil
}

func (c *ChatCommand) Run(ctx context.Context, parsed *values.Values) error {
	s := &ChatSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode chat command settings")
	}
	rt, err := newRuntime(parsed)
	if err != nil {
		return err
	}
	return tui.Run(ctx, rt.conv, rt.poller(s.HealthInterval))
}
