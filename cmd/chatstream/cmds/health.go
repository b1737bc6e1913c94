package cmds

import (
	"context"
	"fmt"
	"io"

	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/values"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/backend"
	"github.com/go-go-golems/chatstream/pkg/health"
)

type HealthCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.WriterCommand = (*HealthCommand)(nil)

func NewHealthCommand() (*HealthCommand, error) {
	section, err := backend.NewSection()
	if err != nil {
		return nil, errors.Wrap(err, "build backend section")
	}
	return &HealthCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"health",
			glazed_cmds.WithShort("Check whether the completion backend is reachable"),
			glazed_cmds.WithSections(section),
		),
	}, nil
}

func (c *HealthCommand) RunIntoWriter(ctx context.Context, parsed *values.Values, w io.Writer) error {
	cfg := backend.DefaultConfig()
	if err := parsed.DecodeSectionInto(backend.SectionSlug, &cfg); err != nil {
		return errors.Wrap(err, "decode backend settings")
	}
	ind := health.NewPoller(backend.NewClient(cfg)).Check(ctx)
	if ind.Status == health.StatusConnected {
		_, err := fmt.Fprintln(w, "connected")
		return err
	}
	if _, err := fmt.Fprintf(w, "error: %s\n", ind.Error); err != nil {
		return err
	}
	return errors.Errorf("backend at %s is not healthy", cfg.BaseURL)
}
