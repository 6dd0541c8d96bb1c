// Package roundtable implements round-based turn orchestration for hall
// conversations: per round it decides which members are eligible to speak,
// records what each member intends to do, and tracks which intents the user
// approved, all under a single-active-round invariant per conversation.
package roundtable

import "time"

type RoundStatus string

const (
	StatusAwaitingUser RoundStatus = "awaiting_user"
	StatusInProgress   RoundStatus = "in_progress"
	StatusCompleted    RoundStatus = "completed"
	StatusSuperseded   RoundStatus = "superseded"
)

type Trigger string

const (
	TriggerUserMessage Trigger = "user_message"
	TriggerContinue    Trigger = "continue"
)

type IntentKind string

const (
	IntentSpeak     IntentKind = "speak"
	IntentChallenge IntentKind = "challenge"
	IntentSupport   IntentKind = "support"
	IntentPass      IntentKind = "pass"
)

// SelectionSource records why a selection has its current value. user_manual
// permanently overrides whatever default logic produced the selection.
type SelectionSource string

const (
	SourceMention       SelectionSource = "mention"
	SourceIntentDefault SelectionSource = "intent_default"
	SourceUserManual    SelectionSource = "user_manual"
)

// Round is one turn-cycle of a hall conversation. Round numbers are strictly
// increasing per conversation, starting at 1.
type Round struct {
	UserID           string      `json:"user_id"`
	ConversationID   string      `json:"conversation_id"`
	RoundNumber      int         `json:"round_number"`
	Status           RoundStatus `json:"status"`
	Trigger          Trigger     `json:"trigger"`
	TriggerMessageID string      `json:"trigger_message_id,omitempty"`
	MaxSpeakers      int         `json:"max_speakers"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Intent is one member's proposed action for a round, plus whether it was
// selected to actually produce output.
type Intent struct {
	UserID         string          `json:"user_id"`
	ConversationID string          `json:"conversation_id"`
	RoundNumber    int             `json:"round_number"`
	MemberID       string          `json:"member_id"`
	Kind           IntentKind      `json:"intent"`
	TargetMemberID string          `json:"target_member_id,omitempty"`
	Rationale      string          `json:"rationale,omitempty"`
	Selected       bool            `json:"selected"`
	Source         SelectionSource `json:"source"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// State bundles a round with its intent set.
type State struct {
	Round   Round    `json:"round"`
	Intents []Intent `json:"intents"`
}

// IntentInput is a proposed intent for a round about to be created. Source is
// normally left empty and stamped by the default-selection pass.
type IntentInput struct {
	MemberID       string          `json:"member_id"`
	Kind           IntentKind      `json:"intent"`
	TargetMemberID string          `json:"target_member_id,omitempty"`
	Rationale      string          `json:"rationale,omitempty"`
	Selected       bool            `json:"selected"`
	Source         SelectionSource `json:"source,omitempty"`
}

// TransitionRules lists the statuses a round may move to from each status.
// completed and superseded are terminal.
var TransitionRules = map[RoundStatus][]RoundStatus{
	StatusAwaitingUser: {StatusInProgress, StatusCompleted, StatusSuperseded},
	StatusInProgress:   {StatusCompleted, StatusSuperseded},
	StatusCompleted:    {},
	StatusSuperseded:   {},
}

func IsAllowedTransition(current, next RoundStatus) bool {
	allowed, ok := TransitionRules[current]
	if !ok {
		return false
	}
	for _, v := range allowed {
		if v == next {
			return true
		}
	}
	return false
}

func ValidIntentKind(kind IntentKind) bool {
	switch kind {
	case IntentSpeak, IntentChallenge, IntentSupport, IntentPass:
		return true
	}
	return false
}
