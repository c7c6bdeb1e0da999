// Package chat implements the conversation engine of the web UI: the transcript, the streaming text
// and image pipelines, and the classification of backend failures into presentable text.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/genzai-web-ui/internal/models"
	"go.uber.org/zap"
)

// State is a step of the per-request state machine.
type State string

const (
	StateIdle                State = "idle"
	StateUserAppended        State = "user_appended"
	StatePlaceholderAppended State = "placeholder_appended"
	StateDispatching         State = "dispatching"
	StateStreaming           State = "streaming"
	StateImageEnhance        State = "image_enhance"
	StateImageSynthesize     State = "image_synthesize"
	StateCompleted           State = "completed"
	StateFailed              State = "failed"
	StateFinalized           State = "finalized"
)

// Orchestrator answers user requests by dispatching them to the text or the image pipeline and
// folding the outcome into the session transcript.
type Orchestrator struct {
	text  TextGenerator
	image imagePipeline

	rec    Recorder
	logger *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEnhancer sets the best-effort prompt enhancer of the image pipeline.
func WithEnhancer(e PromptEnhancer) Option {
	return func(o *Orchestrator) {
		o.image.enhancer = e
	}
}

// WithImageSynthesizer sets the image backend.
func WithImageSynthesizer(s ImageSynthesizer) Option {
	return func(o *Orchestrator) {
		o.image.synthesizer = s
	}
}

// WithPromptCache memoizes enhanced prompts.
func WithPromptCache(c PromptCache) Option {
	return func(o *Orchestrator) {
		o.image.cache = c
	}
}

// WithRecorder reports measurements to r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.rec = r
	}
}

// NewOrchestrator creates an Orchestrator streaming text answers from text.
func NewOrchestrator(text TextGenerator, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		text:   text,
		rec:    nopRecorder{},
		logger: logger.With(zap.String("module", "chat")),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.image.rec = o.rec
	o.image.logger = o.logger
	return o
}

// Request is one user request, from the synchronous append of its messages to finalization.
type Request struct {
	Model       models.Model
	Text        string
	User        models.Message
	Placeholder models.Message

	orch    *Orchestrator
	session *Session
	token   uint64
	history []models.HistoryEntry

	once    sync.Once
	outcome Classification

	mu     sync.Mutex
	states []State
}

// SendMessage appends the user message and its placeholder, then runs the matching pipeline until
// the placeholder is finalized. Pipeline failures end up in the placeholder text; only a refused
// request returns an error.
func (o *Orchestrator) SendMessage(ctx context.Context, s *Session, model models.Model, text string) error {
	req, err := o.Begin(s, model, text)
	if err != nil {
		return err
	}
	req.Run(ctx)
	return nil
}

// StartNewConversation clears the session. A request still running keeps running, but its later
// mutations no longer match any entry and are dropped.
func (o *Orchestrator) StartNewConversation(s *Session) {
	s.reset()
	o.logger.Debug("Started new conversation", zap.String("session", s.ID))
}

// Begin performs the synchronous part of a request: it marks the session as loading and appends
// the user message and the placeholder, so the placeholder can be rendered before any backend call.
func (o *Orchestrator) Begin(s *Session, model models.Model, text string) (*Request, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	token, err := s.acquire()
	if err != nil {
		return nil, err
	}

	req := &Request{
		Model:   model,
		Text:    text,
		orch:    o,
		session: s,
		token:   token,
		states:  []State{StateIdle},
	}
	req.User, req.Placeholder, req.history = s.Transcript.Begin(text, model.IsImage())
	req.transition(StateUserAppended)
	req.transition(StatePlaceholderAppended)

	o.logger.Debug("Request started",
		zap.String("session", s.ID),
		zap.String("model", model.Name),
		zap.String("kind", string(model.Kind)),
		zap.Int("history", len(req.history)))

	return req, nil
}

// Run dispatches the request and always finalizes the placeholder. Calling Run more than once has
// no further effect and returns the first outcome.
func (r *Request) Run(ctx context.Context) Classification {
	r.once.Do(func() {
		r.outcome = r.run(ctx)
	})
	return r.outcome
}

// States returns the states the request went through so far.
func (r *Request) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make([]State, len(r.states))
	copy(states, r.states)
	return states
}

func (r *Request) run(ctx context.Context) (outcome Classification) {
	o := r.orch
	start := time.Now()
	mode := ModeText
	if r.Model.IsImage() {
		mode = ModeImage
	}

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("Recovered from pipeline panic",
				zap.String("model", r.Model.Name),
				zap.Any("panic", p))
			r.transition(StateFailed)
			outcome = Classification{Category: CategoryClassifierFallback, Text: FallbackText}
			r.present(outcome)
		}

		r.transition(StateFinalized)
		r.session.Transcript.FinalizeLast(r.Placeholder.ID)
		r.session.release(r.token)
		o.rec.RequestFinished(mode.String(), outcome.Category, time.Since(start))
	}()

	r.transition(StateDispatching)

	var err error
	if mode == ModeImage {
		err = r.runImage(ctx)
	} else {
		err = r.runText(ctx)
	}

	if err != nil {
		r.transition(StateFailed)
		outcome = Classify(err, mode)
		if mode == ModeText {
			o.logger.Error("Failed to generate response",
				zap.String("model", r.Model.Name),
				zap.Error(err))
		} else {
			o.logger.Warn("Failed to generate image",
				zap.String("model", r.Model.Name),
				zap.String("category", string(outcome.Category)),
				zap.Error(err))
		}
		r.present(outcome)
		return outcome
	}

	r.transition(StateCompleted)
	return Classification{}
}

func (r *Request) runText(ctx context.Context) error {
	o := r.orch
	r.transition(StateStreaming)
	if o.text == nil {
		return errors.New("text generation is not configured")
	}
	seq := o.text.StreamResponse(ctx, r.Model.Name, r.Text, r.history)
	if err := consumeStream(ctx, r.session.Transcript, r.Placeholder.ID, seq, o.rec); err != nil {
		return fmt.Errorf("error receiving response: %w", err)
	}
	return nil
}

func (r *Request) runImage(ctx context.Context) error {
	r.transition(StateImageEnhance)
	prompt := r.orch.image.enhance(ctx, r.Text)

	r.transition(StateImageSynthesize)
	return r.orch.image.synthesize(ctx, r.session.Transcript, r.Placeholder.ID, r.Text, prompt)
}

// present writes a classified failure into the placeholder.
func (r *Request) present(c Classification) {
	r.session.Transcript.MutateLast(r.Placeholder.ID, func(m *models.Message) {
		m.Text = c.Text
		m.IsGeneratingImage = false
	})
}

func (r *Request) transition(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}
