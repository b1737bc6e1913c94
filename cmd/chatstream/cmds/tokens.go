package cmds

import (
	"context"
	"fmt"
	"io"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/fields"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/tokens"
)

type CountTokensCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.WriterCommand = (*CountTokensCommand)(nil)

type CountTokensSettings struct {
	Model string `glazed:"model"`
	Input string `glazed:"input"`
}

func NewCountTokensCommand() (*CountTokensCommand, error) {
	return &CountTokensCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"count-tokens",
			glazed_cmds.WithShort("Count the tokens a text costs for a chat model"),
			glazed_cmds.WithFlags(
				fields.New("model", fields.TypeChoice,
					fields.WithHelp("Model whose encoding is used"),
					fields.WithChoices(chat.Models...),
					fields.WithDefault(chat.DefaultModel)),
			),
			glazed_cmds.WithArguments(
				fields.New("input", fields.TypeStringFromFiles,
					fields.WithHelp("Input file")),
			),
		),
	}, nil
}

func (c *CountTokensCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	s := &CountTokensSettings{}
	if err := parsed.DecodeSectionInto(values.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "decode count settings")
	}
	n, err := tokens.Count(s.Model, s.Input)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "Model: %s\nEncoding: %s\nTotal tokens: %d\n", s.Model, tokens.EncodingForModel(s.Model), n)
	return errors.Wrap(err, "write count")
}
