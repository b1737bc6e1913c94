package cmds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/stream"
	"github.com/go-go-golems/chatstream/pkg/tokens"
)

type SendCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.WriterCommand = (*SendCommand)(nil)

type SendSettings struct {
	Message string `glazed:"message"`
	Output  string `glazed:"output"`
	Stats   bool   `glazed:"stats"`
}

// Transcript is the structured result of a send.
type Transcript struct {
	Model string        `json:"model" yaml:"model"`
	State stream.State  `json:"state" yaml:"state"`
	Error string        `json:"error,omitempty" yaml:"error,omitempty"`
	Turns []chat.Turn   `json:"turns" yaml:"turns"`
	Usage *tokens.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
}

func NewSendCommand() (*SendCommand, error) {
	sections, err := buildSections(chat.NewSettingsSection, backend.NewSection)
	if err != nil {
		return nil, errors.Wrap(err, "build sections")
	}
	return &SendCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"send",
			glazed_cmds.WithShort("Send one message and stream the reply to stdout"),
			glazed_cmds.WithArguments(
				fields.New("message", fields.TypeString,
					fields.WithHelp("Message to send"),
					fields.WithRequired(true)),
			),
			glazed_cmds.WithFlags(
				fields.New("output", fields.TypeChoice,
					fields.WithHelp("text streams the reply; json and yaml print the transcript when done"),
					fields.WithChoices("text", "json", "yaml"),
					fields.WithDefault("text")),
				fields.New("stats", fields.TypeBool,
					fields.WithHelp("Print token counts to stderr"),
					fields.WithDefault(false)),
			),
			glazed_cmds.WithSections(sections...),
		),
	}, nil
}

func (c *SendCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &SendSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode send settings")
	}
	rt, err := newRuntime(parsed)
	if err != nil {
		return err
	}

	var writeErr error
	if s.Output == "text" {
		unsub := rt.conv.Store().Subscribe(func(ev chat.Event) {
			if ev.Kind != chat.EventDeltaAppended || writeErr != nil {
				return
			}
			_, writeErr = io.WriteString(w, ev.Delta)
		})
		defer unsub()
	}

	sess, err := rt.conv.Send(ctx, rt.settings, s.Message)
	if err != nil {
		return err
	}
	if err := sess.Wait(ctx); err != nil {
		sess.Cancel()
		<-sess.Done()
	}
	if writeErr != nil {
		return errors.Wrap(writeErr, "write reply")
	}

	reply, _ := rt.conv.Store().Get(sess.TurnID)
	usage, uerr := tokens.Measure(rt.settings.Model, rt.settings.DeveloperMessage, s.Message, reply.Content)
	if uerr != nil {
		log.Debug().Err(uerr).Msg("token count failed")
	}

	switch s.Output {
	case "json", "yaml":
		t := Transcript{Model: rt.settings.Model, State: sess.State()}
		t.Turns, _ = rt.conv.Store().Snapshot()
		if sess.Err() != nil {
			t.Error = sess.Err().Error()
		}
		if uerr == nil {
			t.Usage = &usage
		}
		if err := writeTranscript(w, s.Output, t); err != nil {
			return err
		}
	default:
		if isatty.IsTerminal(os.Stdout.Fd()) && !strings.HasSuffix(reply.Content, "\n") {
			_, _ = fmt.Fprintln(w)
		}
	}

	if s.Stats && uerr == nil {
		_, _ = fmt.Fprintf(os.Stderr, "Model: %s\nEncoding: %s\nPrompt tokens: %d\nReply tokens: %d\nTotal tokens: %d\n",
			usage.Model, usage.Encoding, usage.Prompt, usage.Reply, usage.Total())
	}
	return sess.Err()
}

func writeTranscript(w io.Writer, format string, t Transcript) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(t); err != nil {
			return errors.Wrap(err, "encode yaml transcript")
		}
		return errors.Wrap(enc.Close(), "flush yaml transcript")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(t), "encode json transcript")
}
