package cli

import (
	"context"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "recollect",
		Usage: "WhatsApp reply pipeline with long-lived conversational memory",
		Commands: []*cli.Command{
			serveCommand(),
			ingestCommand(),
			statsCommand(),
			migrateCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
