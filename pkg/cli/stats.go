package cli

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/usecase/pipeline"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func statsCommand() *cli.Command {
	var (
		cfg   config
		phone string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "phone",
			Aliases:     []string{"p"},
			Usage:       "Conversation ID (phone number)",
			Destination: &phone,
			Required:    true,
		},
	}
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, loggingFlags(&cfg)...)

	return &cli.Command{
		Name:  "stats",
		Usage: "Show stored memory statistics of a conversation",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			id := model.ConversationIDFromJID(phone)
			if id == "" {
				return goerr.New("phone is required")
			}

			repo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := repo.Close(ctx); err != nil {
					logging.From(ctx).Error("failed to close repository", "error", err)
				}
			}()

			// Statistics only read the memory store
			uc := pipeline.New(repo, nil, nil)

			encoder := json.NewEncoder(c.Root().Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(uc.Stats(ctx, id)); err != nil {
				return goerr.Wrap(err, "failed to write stats")
			}
			return nil
		},
	}
}
