package cmds

import (
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/schema"
	"github.com/go-go-golems/glazed/pkg/cmds/sources"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/conversation"
	"github.com/go-go-golems/chatstream/pkg/eventbus"
	"github.com/go-go-golems/chatstream/pkg/health"
)

// EnvPrefix lets CHATSTREAM_API_URL, CHATSTREAM_API_KEY and friends fill flags.
const EnvPrefix = "CHATSTREAM"

func getMiddlewares(
	_ *values.Values,
	cmd *cobra.Command,
	args []string,
) ([]sources.Middleware, error) {
	return []sources.Middleware{
		sources.FromCobra(cmd),
		sources.FromArgs(args),
		sources.FromEnv(EnvPrefix,
			fields.WithSource("env"),
		),
		sources.FromDefaults(),
	}, nil
}

// BuildCobraCommand wires a chatstream command with flag, env and default sources.
func BuildCobraCommand(c glazed_cmds.Command) (*cobra.Command, error) {
	return cli.BuildCobraCommand(c, cli.WithCobraMiddlewaresFunc(getMiddlewares))
}

type sectionFactory func() (schema.Section, error)

func buildSections(factories ...sectionFactory) ([]schema.Section, error) {
	ret := make([]schema.Section, 0, len(factories))
	for _, f := range factories {
		s, err := f()
		if err != nil {
			return nil, err
		}
		ret = append(ret, s)
	}
	return ret, nil
}

const healthIntervalHelp = "Seconds between background health checks (0 checks only at start and on refresh)"

// runtime is what every command builds from the parsed chat and api sections.
type runtime struct {
	settings chat.Settings
	config   backend.Config
	client   *backend.Client
	conv     *conversation.Conversation
}

func newRuntime(parsed *values.Values) (*runtime, error) {
	r := &runtime{
		settings: chat.DefaultSettings(),
		config:   backend.DefaultConfig(),
	}
	if err := parsed.DecodeSectionInto(chat.SettingsSlug, &r.settings); err != nil {
		return nil, errors.Wrap(err, "decode chat settings")
	}
	if err := parsed.DecodeSectionInto(backend.SectionSlug, &r.config); err != nil {
		return nil, errors.Wrap(err, "decode backend settings")
	}
	r.client = backend.NewClient(r.config)
	r.conv = conversation.New(chat.NewStore(), r.client,
		conversation.WithSettings(r.settings),
		conversation.WithRequestTimeout(r.config.RequestTimeoutDuration()),
	)
	return r, nil
}

func (r *runtime) poller(intervalSeconds int) *health.Poller {
	return health.NewPoller(r.client, health.WithInterval(time.Duration(intervalSeconds)*time.Second))
}

func decodeEvents(parsed *values.Values) (eventbus.Settings, error) {
	s := eventbus.DefaultSettings()
	if err := parsed.DecodeSectionInto(eventbus.SectionSlug, &s); err != nil {
		return s, errors.Wrap(err, "decode event settings")
	}
	return s, nil
}
