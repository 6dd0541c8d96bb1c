package roundtable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// ConversationInfo is the slice of conversation metadata the engine needs.
type ConversationInfo struct {
	UserID string
	Hall   bool
}

// Directory supplies conversation metadata, the active member roster, and
// member validity checks. Implemented by the directory store.
type Directory interface {
	ConversationInfo(ctx context.Context, conversationID string) (ConversationInfo, error)
	ActiveMemberIDs(ctx context.Context, conversationID string) ([]string, error)
	MemberActive(ctx context.Context, userID, memberID string) (bool, error)
}

// Planner produces one intent per eligible responder when the caller does not
// supply intents itself. Implemented upstream by the LLM-routing step.
type Planner interface {
	PlanIntents(ctx context.Context, conversationID string, responderIDs []string) ([]IntentInput, error)
}

// SpeakAllPlanner proposes a plain speak intent for every responder.
type SpeakAllPlanner struct{}

func (SpeakAllPlanner) PlanIntents(_ context.Context, _ string, responderIDs []string) ([]IntentInput, error) {
	out := make([]IntentInput, 0, len(responderIDs))
	for _, id := range responderIDs {
		out = append(out, IntentInput{MemberID: id, Kind: IntentSpeak})
	}
	return out, nil
}

// Notifier observes roundtable state changes. Implemented by the event hub.
type Notifier interface {
	RoundChanged(conversationID string, state *State)
}

// OrchestratorConfig wires the orchestrator's collaborators. Planner defaults
// to SpeakAllPlanner, Notifier to a no-op, DefaultMaxSpeakers to 1.
type OrchestratorConfig struct {
	Store              *Store
	Directory          Directory
	Planner            Planner
	Notifier           Notifier
	Logger             *slog.Logger
	DefaultMaxSpeakers int
}

// Orchestrator is the coordination façade over the resolver, intent
// validation, and the round store.
type Orchestrator struct {
	store              *Store
	directory          Directory
	planner            Planner
	notifier           Notifier
	logger             *slog.Logger
	defaultMaxSpeakers int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		store:              cfg.Store,
		directory:          cfg.Directory,
		planner:            cfg.Planner,
		notifier:           cfg.Notifier,
		logger:             cfg.Logger,
		defaultMaxSpeakers: cfg.DefaultMaxSpeakers,
	}
	if o.planner == nil {
		o.planner = SpeakAllPlanner{}
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if o.defaultMaxSpeakers < 1 {
		o.defaultMaxSpeakers = 1
	}
	return o
}

// OpenRoundRequest describes an inbound trigger. Intents may be left empty to
// let the planner propose one intent per eligible responder.
type OpenRoundRequest struct {
	ConversationID     string
	Trigger            Trigger
	TriggerMessageID   string
	MaxSpeakers        int
	MentionedMemberIDs []string
	Intents            []IntentInput
}

// OpenRound resolves the responder set, validates the intent set, and creates
// the next round, superseding any still-active predecessor. A repeated
// delivery of the same trigger message returns the round the first delivery
// created instead of opening another one.
func (o *Orchestrator) OpenRound(ctx context.Context, req OpenRoundRequest) (*State, error) {
	if req.Trigger != TriggerUserMessage && req.Trigger != TriggerContinue {
		return nil, fmt.Errorf("unknown trigger %q", req.Trigger)
	}

	info, err := o.directory.ConversationInfo(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !info.Hall {
		return nil, Errorf(KindInvalidState, "conversation %s does not host a roundtable", req.ConversationID)
	}

	if req.TriggerMessageID != "" {
		existing, err := o.store.Latest(ctx, req.ConversationID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.Round.Status == StatusAwaitingUser && existing.Round.TriggerMessageID == req.TriggerMessageID {
			return existing, nil
		}
	}

	active, err := o.directory.ActiveMemberIDs(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, Errorf(KindNotFound, "conversation %s has no active members", req.ConversationID)
	}
	responders := ResolveResponders(active, req.MentionedMemberIDs)

	intents := req.Intents
	if len(intents) == 0 {
		intents, err = o.planner.PlanIntents(ctx, req.ConversationID, responders)
		if err != nil {
			return nil, err
		}
	}

	activeSet := make(map[string]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}
	if err := ValidateIntentSet(intents, func(id string) bool {
		_, ok := activeSet[id]
		return ok
	}); err != nil {
		return nil, err
	}
	responderSet := make(map[string]struct{}, len(responders))
	for _, id := range responders {
		responderSet[id] = struct{}{}
	}
	for _, in := range intents {
		if _, ok := responderSet[in.MemberID]; !ok {
			return nil, Errorf(KindNotEligible, "member %s is not an eligible responder for this round", in.MemberID)
		}
	}

	maxSpeakers := req.MaxSpeakers
	if maxSpeakers == 0 {
		maxSpeakers = o.defaultMaxSpeakers
	}
	if maxSpeakers < 1 {
		maxSpeakers = 1
	}
	intents = applySelectionDefaults(intents, req.MentionedMemberIDs, maxSpeakers)

	state, err := o.store.CreateRound(ctx, info.UserID, req.ConversationID, req.Trigger, req.TriggerMessageID, maxSpeakers, intents)
	if err != nil {
		return nil, err
	}
	o.logger.Info("round opened",
		"conversation", req.ConversationID,
		"round", state.Round.RoundNumber,
		"trigger", req.Trigger,
		"responders", len(responders),
	)
	o.notify(req.ConversationID, state)
	return state, nil
}

// applySelectionDefaults fills the selected set when the caller supplied no
// explicit selection: mentioned members claim slots first, then non-pass
// intents in responder order until the speaker cap is reached.
func applySelectionDefaults(intents []IntentInput, mentionedMemberIDs []string, maxSpeakers int) []IntentInput {
	for _, in := range intents {
		if in.Selected || in.Source != "" {
			return intents
		}
	}

	mentioned := make(map[string]struct{}, len(mentionedMemberIDs))
	for _, id := range mentionedMemberIDs {
		mentioned[id] = struct{}{}
	}

	out := make([]IntentInput, len(intents))
	copy(out, intents)
	slots := maxSpeakers
	for i := range out {
		out[i].Source = SourceIntentDefault
		if slots == 0 {
			continue
		}
		if _, ok := mentioned[out[i].MemberID]; ok {
			out[i].Selected = true
			out[i].Source = SourceMention
			slots--
		}
	}
	for i := range out {
		if slots == 0 {
			break
		}
		if out[i].Selected || out[i].Kind == IntentPass {
			continue
		}
		out[i].Selected = true
		slots--
	}
	return out
}

// Roundtable returns the latest non-superseded round with its intents, or nil
// when the conversation has no rounds yet.
func (o *Orchestrator) Roundtable(ctx context.Context, conversationID string) (*State, error) {
	return o.store.Latest(ctx, conversationID)
}

// SetSelections applies a user edit to the selected set of an awaiting_user
// round.
func (o *Orchestrator) SetSelections(ctx context.Context, conversationID string, roundNumber int, memberIDs []string) (*State, error) {
	state, err := o.store.SetSelections(ctx, conversationID, roundNumber, memberIDs)
	if err != nil {
		return nil, err
	}
	o.notify(conversationID, state)
	return state, nil
}

// BeginRound moves an awaiting_user round to in_progress.
func (o *Orchestrator) BeginRound(ctx context.Context, conversationID string, roundNumber int) (*State, error) {
	state, err := o.store.MarkInProgress(ctx, conversationID, roundNumber)
	if err != nil {
		return nil, err
	}
	o.notify(conversationID, state)
	return state, nil
}

// CompleteRound moves a round to completed.
func (o *Orchestrator) CompleteRound(ctx context.Context, conversationID string, roundNumber int) (*State, error) {
	state, err := o.store.MarkCompleted(ctx, conversationID, roundNumber)
	if err != nil {
		return nil, err
	}
	o.notify(conversationID, state)
	return state, nil
}

func (o *Orchestrator) notify(conversationID string, state *State) {
	if o.notifier == nil {
		return
	}
	o.notifier.RoundChanged(conversationID, state)
}
