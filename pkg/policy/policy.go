package policy

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recollect/pkg/model"
	"github.com/m-mizutani/recollect/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const ingestQuery = "data.ingest"

// Decision is the outcome of the ingest policy for one envelope
type Decision struct {
	Allow  bool
	Reason string
}

// Input is the document passed to the policy as `input`
type Input struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
	MessageID      string `json:"message_id"`
	PushName       string `json:"push_name"`
}

// NewInput converts an envelope into policy input
func NewInput(env *model.Envelope) Input {
	return Input{
		ConversationID: string(env.ConversationID),
		Text:           env.Text,
		Timestamp:      env.Timestamp,
		MessageID:      env.MessageID,
		PushName:       env.PushName,
	}
}

// regoPrintHook sends Rego print() output to the logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Ingest decides whether an inbound envelope should be scheduled. A nil or
// empty Ingest allows everything.
type Ingest struct {
	query *rego.PreparedEvalQuery
}

// Load reads all .rego files in dir. An empty dir argument or a directory
// without policy files yields a policy that allows everything.
func Load(ctx context.Context, dir string) (*Ingest, error) {
	if dir == "" {
		return &Ingest{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		return &Ingest{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+2)
	options = append(options, rego.Query(ingestQuery), rego.EnablePrintStatements(true))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare ingest policy", goerr.V("dir", dir))
	}

	logging.From(ctx).Info("ingest policy loaded", "dir", dir, "files", len(files))
	return &Ingest{query: &prepared}, nil
}

// Enabled reports whether any policy file was loaded
func (x *Ingest) Enabled() bool {
	return x != nil && x.query != nil
}

// Evaluate runs the policy against the envelope
func (x *Ingest) Evaluate(ctx context.Context, env *model.Envelope) (*Decision, error) {
	if !x.Enabled() {
		return &Decision{Allow: true}, nil
	}

	rs, err := x.query.Eval(ctx,
		rego.EvalInput(NewInput(env)),
		rego.EvalPrintHook(&regoPrintHook{ctx: ctx}),
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate ingest policy", goerr.V("conversation_id", env.ConversationID))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return &Decision{Allow: false, Reason: "ingest policy undefined"}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("unexpected ingest policy result", goerr.V("value", rs[0].Expressions[0].Value))
	}

	decision := &Decision{}
	if allow, ok := data["allow"].(bool); ok {
		decision.Allow = allow
	}
	if reason, ok := data["reason"].(string); ok {
		decision.Reason = reason
	}
	if !decision.Allow && decision.Reason == "" {
		decision.Reason = "denied by ingest policy"
	}

	return decision, nil
}
