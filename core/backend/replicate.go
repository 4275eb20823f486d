package backend

import (
	"context"
	"errors"
	"time"

	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/payload"
	"github.com/mudler/genstudio/pkg/replicate"
	"github.com/mudler/xlog"
)

// ReplicateGenerator runs generations as Replicate predictions of the
// schema's model.
type ReplicateGenerator struct {
	client  *replicate.Client
	outputs *OutputEmbedder
}

// NewReplicateGenerator builds the generator. outputs may be nil, in which
// case the service URLs are returned as they are.
func NewReplicateGenerator(client *replicate.Client, outputs *OutputEmbedder) *ReplicateGenerator {
	return &ReplicateGenerator{client: client, outputs: outputs}
}

func (g *ReplicateGenerator) Generate(ctx context.Context, s *config.ModelSchema, p *payload.Payload) (*Output, error) {
	form, err := ReadPayload(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = form.RemoveAll() }()

	store, err := payload.Decode(s, form)
	if err != nil {
		return nil, &Error{Data: ErrorData{Error: err.Error()}, Err: err}
	}

	start := time.Now()
	pred, err := g.client.Run(ctx, s.Model, s.Version, payload.APIInput(s, store))
	if err != nil {
		var re *replicate.Error
		if errors.As(err, &re) {
			return nil, &Error{StatusCode: re.StatusCode, Data: ErrorData{Error: re.Message()}, Err: err}
		}
		return nil, err
	}

	outputs := pred.Outputs()
	if len(outputs) == 0 {
		return nil, &Error{Data: ErrorData{Error: "the model returned no output"}}
	}
	xlog.Debug("Prediction succeeded", "model", s.ID, "prediction", pred.ID, "outputs", len(outputs), "elapsed", time.Since(start))

	if g.outputs != nil {
		outputs = g.outputs.Embed(ctx, pred.ID, outputs)
	}
	return &Output{
		Outputs:      outputs,
		IsVideo:      s.IsVideo(),
		Seed:         pred.Seed(),
		PredictionID: pred.ID,
	}, nil
}
