// Package conversation implements RentBot's multi-step data collection flows.
//
// A flow asks a fixed sequence of questions (for a property, unit or tenant),
// validates each answer, and once every answer is in, commits the record
// through an EntityStore. Progress is kept per user in process memory and all
// operations for one user are serialized.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Replies sent by the engine itself.
const (
	MsgNoActiveFlow  = "I'm not sure what you're referring to. You can start by adding a property, unit, or tenant."
	MsgCancelled     = "I've cancelled the current operation. How else can I help you?"
	MsgNothingToStop = "There's no active operation to cancel."
	MsgInternalError = "Sorry, something went wrong on my side. Please start again."
	commitFailureFmt = "I encountered an error while saving your information: %s. Please try again."
)

var (
	// ErrNoActiveFlow tells the caller the message was not consumed by a flow.
	ErrNoActiveFlow = errors.New("no active flow")
	// ErrUnknownFlow reports a flow kind with no definition.
	ErrUnknownFlow = errors.New("unknown flow kind")
	// ErrUnknownField reports a flow field with no validator.
	ErrUnknownField = errors.New("unknown field")
)

var cancelWords = map[string]bool{"cancel": true, "stop": true, "quit": true, "exit": true, "nevermind": true}

// IsCancellation reports whether input asks to abandon the current flow.
func IsCancellation(input string) bool {
	return cancelWords[strings.ToLower(strings.TrimSpace(input))]
}

// CommitFunc persists a completed flow and returns the confirmation text.
type CommitFunc func(ctx context.Context, userID string, data Data) (string, error)

// Opts holds configuration options for the Engine.
type Opts struct {
	States      *StateStore
	Definitions map[Kind]*Definition
	UnitIDs     func() string
	TenantIDs   func() string
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithStateStore shares a state store, mainly for tests that inspect progress.
func WithStateStore(s *StateStore) Option {
	return func(o *Opts) { o.States = s }
}

// WithDefinitions replaces the built-in flow definitions.
func WithDefinitions(defs map[Kind]*Definition) Option {
	return func(o *Opts) { o.Definitions = defs }
}

// WithUnitIDGenerator overrides how unit identifiers are generated.
func WithUnitIDGenerator(gen func() string) Option {
	return func(o *Opts) { o.UnitIDs = gen }
}

// WithTenantIDGenerator overrides how tenant identifiers are generated.
func WithTenantIDGenerator(gen func() string) Option {
	return func(o *Opts) { o.TenantIDs = gen }
}

// Engine drives flows for all users.
type Engine struct {
	defs    map[Kind]*Definition
	states  *StateStore
	commits map[Kind]CommitFunc
}

// NewEngine builds an engine committing into store.
func NewEngine(store EntityStore, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.States == nil {
		cfg.States = NewStateStore()
	}
	if cfg.Definitions == nil {
		cfg.Definitions = DefaultDefinitions()
	}
	c := newCommitter(store, cfg.UnitIDs, cfg.TenantIDs)
	slog.Debug("Conversation engine created", "flows", len(cfg.Definitions))
	return &Engine{
		defs:   cfg.Definitions,
		states: cfg.States,
		commits: map[Kind]CommitFunc{
			KindAddProperty: c.commitProperty,
			KindAddUnit:     c.commitUnit,
			KindAddTenant:   c.commitTenant,
		},
	}
}

// StartFlow begins kind for userID, replacing any flow already in progress.
// initial seeds collected data; a value for the first field is processed
// as if the user had typed it. Returns the next prompt, or the outcome when
// the seed alone finished the flow.
func (e *Engine) StartFlow(ctx context.Context, userID string, kind Kind, initial map[string]string) (string, error) {
	def, found := e.defs[kind]
	if !found {
		slog.Error("Engine.StartFlow: unknown flow kind", "userID", userID, "kind", kind)
		return "", fmt.Errorf("%w: %s", ErrUnknownFlow, kind)
	}

	unlock := e.states.Lock(userID)
	defer unlock()

	first := def.Field(0)
	data := make(Data, len(initial))
	var seed string
	for k, v := range initial {
		if k == first {
			seed = v
			continue
		}
		data[k] = v
	}

	if prev := e.states.Get(userID); prev != nil {
		slog.Info("Engine.StartFlow: discarding flow in progress", "userID", userID, "previous", prev.Kind, "step", prev.Step)
	}
	now := time.Now()
	st := &FlowState{UserID: userID, Kind: kind, Data: data, CreatedAt: now, UpdatedAt: now}
	e.states.Put(st)
	slog.Info("Engine.StartFlow: flow started", "userID", userID, "kind", kind, "seeded", seed != "")

	if strings.TrimSpace(seed) != "" {
		return e.advance(ctx, def, st, seed), nil
	}
	return def.Prompt(0), nil
}

// ProcessStep feeds input to the user's current step. Without a flow in
// progress it returns guidance rather than an error.
func (e *Engine) ProcessStep(ctx context.Context, userID, input string) (string, error) {
	unlock := e.states.Lock(userID)
	defer unlock()

	st := e.states.Get(userID)
	if st == nil {
		slog.Debug("Engine.ProcessStep: no active flow", "userID", userID)
		return MsgNoActiveFlow, nil
	}
	return e.step(ctx, st, input), nil
}

// CancelFlow discards the user's flow, if any.
func (e *Engine) CancelFlow(ctx context.Context, userID string) string {
	unlock := e.states.Lock(userID)
	defer unlock()

	if e.states.Delete(userID) {
		slog.Info("Engine.CancelFlow: flow cancelled", "userID", userID)
		return MsgCancelled
	}
	return MsgNothingToStop
}

// Dispatch is the entry point for inbound text. Cancellation words win over
// everything; otherwise an active flow consumes the message. ErrNoActiveFlow
// means the caller should handle the message itself.
func (e *Engine) Dispatch(ctx context.Context, userID, message string) (string, error) {
	if IsCancellation(message) {
		return e.CancelFlow(ctx, userID), nil
	}

	unlock := e.states.Lock(userID)
	defer unlock()

	st := e.states.Get(userID)
	if st == nil {
		return "", ErrNoActiveFlow
	}
	return e.step(ctx, st, message), nil
}

// ActiveFlow reports the user's flow kind and current step.
func (e *Engine) ActiveFlow(userID string) (Kind, int, bool) {
	st := e.states.Get(userID)
	if st == nil {
		return "", 0, false
	}
	return st.Kind, st.Step, true
}

// step runs one answer against st. The caller holds the user's lock.
func (e *Engine) step(ctx context.Context, st *FlowState, input string) string {
	def, found := e.defs[st.Kind]
	if !found || st.Step < 0 || st.Step >= def.Len() {
		slog.Error("Engine: corrupt flow state discarded", "userID", st.UserID, "kind", st.Kind, "step", st.Step, "error", ErrUnknownFlow)
		e.states.Delete(st.UserID)
		return MsgInternalError
	}
	return e.advance(ctx, def, st, input)
}

func (e *Engine) advance(ctx context.Context, def *Definition, st *FlowState, input string) string {
	field := def.Field(st.Step)
	res := def.validate(st.Step, input)
	if !res.Valid {
		slog.Debug("Engine: answer rejected", "userID", st.UserID, "kind", st.Kind, "field", field)
		return res.Message
	}

	st.Data[field] = res.Value
	st.Step++
	if st.Step < def.Len() {
		e.states.Put(st)
		slog.Debug("Engine: step accepted", "userID", st.UserID, "kind", st.Kind, "field", field, "next", def.Field(st.Step))
		return def.Prompt(st.Step)
	}

	st.Complete = true
	defer e.states.Delete(st.UserID)
	return e.complete(ctx, def, st)
}

func (e *Engine) complete(ctx context.Context, def *Definition, st *FlowState) string {
	commit, found := e.commits[def.Kind]
	if !found {
		slog.Error("Engine: no commit handler", "userID", st.UserID, "kind", def.Kind, "error", ErrUnknownFlow)
		return MsgInternalError
	}
	reply, err := commit(ctx, st.UserID, st.Data)
	if err != nil {
		slog.Error("Engine: commit failed", "userID", st.UserID, "kind", def.Kind, "error", err)
		return fmt.Sprintf(commitFailureFmt, err)
	}
	slog.Info("Engine: flow completed", "userID", st.UserID, "kind", def.Kind)
	return reply
}
