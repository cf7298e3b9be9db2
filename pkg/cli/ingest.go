package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/policy"
	"github.com/m-mizutani/recollect/pkg/usecase/ingest"
	"github.com/m-mizutani/recollect/pkg/usecase/pipeline"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// inlineRunner runs the pipeline in the caller's goroutine
type inlineRunner struct {
	ctx     context.Context
	uc      *pipeline.UseCase
	reports []*model.RunReport
}

func (x *inlineRunner) Submit(env *model.Envelope) error {
	x.reports = append(x.reports, x.uc.Run(x.ctx, env))
	return nil
}

type runSummary struct {
	Accepted       bool                 `json:"accepted"`
	Reason         string               `json:"reason,omitempty"`
	ConversationID model.ConversationID `json:"conversation_id,omitempty"`
	Retrieval      model.RetrievalKind  `json:"retrieval,omitempty"`
	ContextItems   int                  `json:"context_items"`
	Reply          model.ReplyKind      `json:"reply,omitempty"`
	ReplyText      string               `json:"reply_text,omitempty"`
	Delivered      bool                 `json:"delivered"`
	StatusCode     int                  `json:"status_code,omitempty"`
	Recording      model.RecordingKind  `json:"recording,omitempty"`
	EpisodeName    string               `json:"episode_name,omitempty"`
	DurationMillis int64                `json:"duration_ms"`
}

func newRunSummary(result *ingest.Result, report *model.RunReport) *runSummary {
	summary := &runSummary{
		Accepted: result.Accepted,
		Reason:   result.Reason,
	}
	if report == nil {
		return summary
	}

	summary.ConversationID = report.Envelope.ConversationID
	summary.Retrieval = report.Retrieval.Kind
	summary.ContextItems = len(report.Retrieval.Items)
	summary.Reply = report.Reply.Kind
	summary.ReplyText = report.Reply.Text
	summary.Delivered = report.Delivery.Delivered
	summary.StatusCode = report.Delivery.StatusCode
	summary.Recording = report.Recording.Kind
	summary.EpisodeName = report.Recording.EpisodeName
	summary.DurationMillis = report.Duration.Milliseconds()
	return summary
}

func ingestCommand() *cli.Command {
	var (
		cfg       config
		inputPath string
		policyDir string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to a webhook event JSON file",
			Destination: &inputPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "ingest-policy-dir",
			Usage:       "Directory of Rego files filtering inbound messages",
			Sources:     cli.EnvVars("INGEST_POLICY_DIR"),
			Destination: &policyDir,
		},
	}
	flags = append(flags, memoryFlags(&cfg)...)
	flags = append(flags, generatorFlags(&cfg)...)
	flags = append(flags, gatewayFlags(&cfg)...)
	flags = append(flags, loggingFlags(&cfg)...)

	return &cli.Command{
		Name:  "ingest",
		Usage: "Process one webhook event file synchronously",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			data, err := os.ReadFile(inputPath)
			if err != nil {
				return goerr.Wrap(err, "failed to read input file", goerr.V("path", inputPath))
			}

			// Initialize dependencies
			ingestPolicy, err := policy.Load(ctx, policyDir)
			if err != nil {
				return err
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

			uc, err := cfg.newPipeline(ctx, repo)
			if err != nil {
				return err
			}

			runner := &inlineRunner{ctx: ctx, uc: uc}
			result, err := ingest.New(runner, ingest.WithPolicy(ingestPolicy)).Handle(ctx, data)
			if err != nil {
				return goerr.Wrap(err, "failed to ingest event", goerr.V("path", inputPath))
			}

			var report *model.RunReport
			if len(runner.reports) > 0 {
				report = runner.reports[0]
			}

			encoder := json.NewEncoder(c.Root().Writer)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(newRunSummary(result, report)); err != nil {
				return goerr.Wrap(err, "failed to write summary")
			}
			return nil
		},
	}
}
