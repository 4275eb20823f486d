package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/genstudio/core/backend"
	"github.com/mudler/genstudio/core/chat"
	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/params"
	"github.com/mudler/genstudio/core/payload"
	"github.com/mudler/genstudio/core/trace"
	"github.com/mudler/genstudio/pkg/concurrency"
	"github.com/mudler/genstudio/pkg/utils"
	"github.com/mudler/xlog"
)

var ErrNoModel = errors.New("no model selected")

type GenerationRequest struct {
	Owner string
	// SessionID is the session to record the exchange in, the current one
	// when empty.
	SessionID string
	Schema    *config.ModelSchema
	Params    *params.Store
	// AutoAttach feeds the newest generated image of the session into the
	// image input when the user left it empty.
	AutoAttach bool
}

// Generation is the handle of a dispatched generation. Wait returns the
// assistant message once it settled, succeeded or failed.
type Generation struct {
	SessionID     string `json:"session_id"`
	UserMessageID string `json:"user_message_id"`
	MessageID     string `json:"message_id"`

	*concurrency.JobResult[GenerationRequest, chat.Message] `json:"-"`
}

// GenerationService drives generations from dispatch to settlement:
// idle, processing, then succeeded or failed exactly once.
type GenerationService struct {
	generator backend.Generator
	fetcher   *utils.Fetcher
	metrics   *MetricsService
	events    EventPublisher
	traces    *trace.Buffer

	localPrefix string
	localDir    string

	now   func() time.Time
	newID func() string
	wg    sync.WaitGroup
}

type GenerationOption func(*GenerationService)

// WithFetcher sets how auto-attached images are downloaded.
func WithFetcher(f *utils.Fetcher) GenerationOption {
	return func(s *GenerationService) {
		s.fetcher = f
	}
}

// WithLocalOutputs lets auto-attach read outputs re-hosted under prefix
// straight from dir.
func WithLocalOutputs(prefix, dir string) GenerationOption {
	return func(s *GenerationService) {
		s.localPrefix = strings.TrimRight(prefix, "/") + "/"
		s.localDir = dir
	}
}

func WithMetrics(m *MetricsService) GenerationOption {
	return func(s *GenerationService) {
		s.metrics = m
	}
}

func WithEvents(p EventPublisher) GenerationOption {
	return func(s *GenerationService) {
		s.events = p
	}
}

func WithTraces(b *trace.Buffer) GenerationOption {
	return func(s *GenerationService) {
		s.traces = b
	}
}

func WithClock(now func() time.Time) GenerationOption {
	return func(s *GenerationService) {
		s.now = now
	}
}

func WithIDGenerator(newID func() string) GenerationOption {
	return func(s *GenerationService) {
		s.newID = newID
	}
}

func NewGenerationService(g backend.Generator, opts ...GenerationOption) *GenerationService {
	s := &GenerationService{
		generator: g,
		fetcher:   utils.NewFetcher(20 << 20),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dispatch validates the parameters, records the user message and its
// processing placeholder, then runs the generator in the background. Nothing
// is recorded when validation fails. The generation outlives ctx.
func (s *GenerationService) Dispatch(ctx context.Context, store *chat.Store, req GenerationRequest) (*Generation, error) {
	if req.Schema == nil {
		return nil, ErrNoModel
	}
	values := req.Params
	if values == nil {
		values = params.NewStore()
	}
	if report := config.ValidateAll(req.Schema, values); !report.Valid {
		return nil, &ValidationError{Errors: report.Errors}
	}

	sess, err := store.Session(req.SessionID)
	if err != nil {
		return nil, err
	}

	values = values.Clone()
	attachments := imageAttachments(req.Schema, values)
	auto := s.resolveAutoAttach(ctx, store, sess.ID, req, values)

	now := s.now()
	user := chat.NewUserMessage(s.newID(), now, chat.UserContent{
		Prompt:       promptOf(req.Schema, values),
		Attachments:  attachments,
		AutoAttached: auto,
		ModelID:      req.Schema.ID,
		ModelName:    req.Schema.DisplayName(),
		Parameters:   withoutImages(req.Schema, values),
	})
	placeholder := chat.NewPlaceholder(s.newID(), now, req.Schema.ID)
	if err := store.AppendMessage(sess.ID, user, placeholder); err != nil {
		return nil, err
	}

	p := payload.Serialize(req.Schema, values)
	jr, wjr := concurrency.NewJobResult[GenerationRequest, chat.Message](req)
	gen := &Generation{
		SessionID:     sess.ID,
		UserMessageID: user.ID,
		MessageID:     placeholder.ID,
		JobResult:     jr,
	}

	xlog.Debug("Generation dispatched", "owner", req.Owner, "model", req.Schema.ID, "session", sess.ID, "message", placeholder.ID)
	s.metrics.generationStarted(req.Schema.ID)
	s.publish(GenerationEvent{
		Type:      EventGenerationStarted,
		Owner:     req.Owner,
		SessionID: sess.ID,
		MessageID: placeholder.ID,
		ModelID:   req.Schema.ID,
		Timestamp: now,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(context.WithoutCancel(ctx), store, gen, p, wjr)
	}()
	return gen, nil
}

func (s *GenerationService) run(ctx context.Context, store *chat.Store, gen *Generation, p *payload.Payload, wjr *concurrency.WritableJobResult[GenerationRequest, chat.Message]) {
	req := *gen.Request()
	start := s.now()
	out, genErr := s.generate(ctx, req.Schema, p)
	elapsed := s.now().Sub(start)

	event := GenerationEvent{
		Owner:     req.Owner,
		SessionID: gen.SessionID,
		MessageID: gen.MessageID,
		ModelID:   req.Schema.ID,
		Duration:  elapsed,
		Timestamp: s.now(),
	}
	var settleErr error
	if genErr != nil {
		event.Type = EventGenerationFailed
		event.Error = ToUserMessage(genErr)
		xlog.Warn("Generation failed", "model", req.Schema.ID, "message", gen.MessageID, "error", genErr)
		settleErr = store.MarkGenerationFailed(gen.MessageID, event.Error)
	} else {
		event.Type = EventGenerationSucceeded
		event.Outputs = out.Outputs
		xlog.Info("Generation succeeded", "model", req.Schema.ID, "message", gen.MessageID, "outputs", len(out.Outputs), "elapsed", elapsed)
		settleErr = store.MarkGenerationSucceeded(gen.MessageID, out.Outputs, req.Schema.IsVideo() || out.IsVideo, out.Seed)
	}
	if settleErr != nil {
		// the message was deleted or settled by someone else meanwhile
		xlog.Warn("Cannot settle generation message", "message", gen.MessageID, "error", settleErr)
	}

	s.metrics.generationSettled(req.Schema.ID, string(event.Type), elapsed)
	s.publish(event)
	t := trace.GenerationTrace{
		Timestamp: start,
		Duration:  elapsed,
		Owner:     req.Owner,
		ModelID:   req.Schema.ID,
		Model:     req.Schema.Model,
		SessionID: gen.SessionID,
		MessageID: gen.MessageID,
		Status:    string(event.Type),
		Summary:   trace.TruncateString(promptOf(req.Schema, req.Params), 200),
		Outputs:   len(event.Outputs),
		Error:     event.Error,
	}
	if out != nil {
		t.PredictionID = out.PredictionID
	}
	s.traces.Record(t)

	msg, err := store.Message(gen.MessageID)
	wjr.SetResult(msg, err)
}

func (s *GenerationService) publish(e GenerationEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), e); err != nil {
		xlog.Warn("Cannot publish generation event", "type", e.Type, "message", e.MessageID, "error", err)
	}
}

// Shutdown waits for in-flight generations to settle or ctx to end.
func (s *GenerationService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errNoOutput = errors.New("the generator returned no output")

// generate calls the generator, turning a panic or an empty result into an
// error so the placeholder always settles.
func (s *GenerationService) generate(ctx context.Context, schema *config.ModelSchema, p *payload.Payload) (out *backend.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			xlog.Error("Generator panicked", "model", schema.ID, "panic", r, "stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("generation crashed: %v", r)
		}
	}()
	out, err = s.generator.Generate(ctx, schema, p)
	if err == nil && out == nil {
		err = errNoOutput
	}
	return out, err
}

// resolveAutoAttach puts the auto-attach candidate of the session into the
// image input of values and returns it, or returns nil when nothing was attached.
func (s *GenerationService) resolveAutoAttach(ctx context.Context, store *chat.Store, sessionID string, req GenerationRequest, values *params.Store) *params.ImageReference {
	if !req.AutoAttach {
		return nil
	}
	name, d, ok := config.ImageInputField(req.Schema)
	if !ok {
		return nil
	}
	ui := req.Schema.UIField(name)
	if v, ok := values.Get(ui); ok && !params.IsEmpty(v) {
		return nil
	}
	url, ok := store.AutoAttachCandidate(sessionID, true)
	if !ok {
		return nil
	}
	ref, err := s.imageFromURL(ctx, url)
	if err != nil {
		xlog.Warn("Cannot auto-attach the last generated image", "url", url, "error", err)
		return nil
	}
	if d.IsImageList() {
		values.Set(ui, []params.ImageReference{ref})
	} else {
		values.Set(ui, ref)
	}
	return &ref
}

func (s *GenerationService) imageFromURL(ctx context.Context, url string) (params.ImageReference, error) {
	if params.IsDataURL(url) {
		mime, data, err := params.ParseDataURL(url)
		if err != nil {
			return params.ImageReference{}, err
		}
		return params.NewImageReference("generated", mime, data), nil
	}
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if s.localDir != "" && strings.HasPrefix(url, s.localPrefix) {
		data, err := os.ReadFile(filepath.Join(s.localDir, filepath.Base(name)))
		if err != nil {
			return params.ImageReference{}, err
		}
		return params.NewImageReference(name, "", data), nil
	}
	data, mime, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		return params.ImageReference{}, err
	}
	return params.NewImageReference(name, mime, data), nil
}

func promptOf(s *config.ModelSchema, values *params.Store) string {
	if values == nil {
		return ""
	}
	v, _ := values.Get(s.UIField(config.FieldPrompt))
	prompt, _ := v.(string)
	return prompt
}

// imageAttachments lists the images the user put in the image fields.
func imageAttachments(s *config.ModelSchema, values *params.Store) []params.ImageReference {
	var out []params.ImageReference
	for _, prop := range config.OrderedProperties(s) {
		if !prop.Descriptor.IsImage() {
			continue
		}
		v, _ := values.Get(s.UIField(prop.Name))
		switch t := v.(type) {
		case params.ImageReference:
			out = append(out, t)
		case []params.ImageReference:
			out = append(out, t...)
		}
	}
	return out
}

// withoutImages copies values without image data, which the message keeps
// as attachments already.
func withoutImages(s *config.ModelSchema, values *params.Store) *params.Store {
	out := values.Clone()
	for _, prop := range s.Properties.List() {
		if prop.Descriptor.IsImage() {
			out.Delete(s.UIField(prop.Name))
		}
	}
	return out
}
