package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func migrateCommand() *cli.Command {
	var cfg config

	flags := memoryFlags(&cfg)
	flags = append(flags, loggingFlags(&cfg)...)

	return &cli.Command{
		Name:  "migrate",
		Usage: "Create memory store indices and constraints",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := repo.Close(ctx); err != nil {
					logging.From(ctx).Error("failed to close repository", "error", err)
				}
			}()

			if err := repo.BuildIndices(ctx); err != nil {
				return goerr.Wrap(err, "failed to build indices")
			}

			fmt.Fprintf(c.Root().Writer, "Indices ready (%s)\n", cfg.memoryBackend)
			return nil
		},
	}
}
