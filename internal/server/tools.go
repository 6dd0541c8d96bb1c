package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/farzinnasiri/the-council-sub001/internal/directory"
	"github.com/farzinnasiri/the-council-sub001/internal/roundtable"
)

type toolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

func newTool(name, description string, inputSchema map[string]any) toolSchema {
	return toolSchema{Name: name, Description: description, InputSchema: inputSchema}
}

func stringProp(description string) map[string]any {
	if description == "" {
		return map[string]any{"type": "string"}
	}
	return map[string]any{"type": "string", "description": description}
}

func stringListProp(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func toolListResponse() map[string]any {
	intentItem := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"member_id":        stringProp(""),
			"intent":           stringProp("speak|challenge|support|pass"),
			"target_member_id": stringProp("member being challenged or supported"),
			"rationale":        stringProp(""),
			"selected":         map[string]any{"type": "boolean"},
		},
	}
	return map[string]any{
		"tools": []toolSchema{
			newTool(
				"hall_create_conversation",
				"Create a conversation. Only hall conversations host a roundtable",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"user_id": stringProp(""),
						"title":   stringProp(""),
						"kind":    stringProp("hall|chamber"),
					},
				},
			),
			newTool(
				"hall_add_member",
				"Create a persona member for a user",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"user_id": stringProp(""),
						"name":    stringProp(""),
						"persona": stringProp(""),
					},
				},
			),
			newTool(
				"hall_archive_member",
				"Soft-delete a member, removing it from active rosters",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"member_id": stringProp(""),
					},
				},
			),
			newTool(
				"hall_add_participant",
				"Add a member to a conversation roster",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"conversation_id": stringProp(""),
						"member_id":       stringProp(""),
					},
				},
			),
			newTool(
				"hall_get_roundtable",
				"Return the latest non-superseded round with its intents",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"conversation_id": stringProp(""),
					},
				},
			),
			newTool(
				"hall_open_round",
				"Open a new round, superseding any still-active predecessor",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"conversation_id":    stringProp(""),
						"trigger":            stringProp("user_message|continue"),
						"trigger_message_id": stringProp("stable id of the triggering message, used for duplicate detection"),
						"max_speakers":       map[string]any{"type": "integer", "description": "cap on selected speakers, minimum 1"},
						"mentions":           stringListProp("member ids mentioned in the triggering message"),
						"intents": map[string]any{
							"type":        "array",
							"items":       intentItem,
							"description": "one intent per eligible responder; omit to let the planner propose them",
						},
					},
				},
			),
			newTool(
				"hall_set_selections",
				"Replace the selected speaker set of an awaiting_user round",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"conversation_id": stringProp(""),
						"round_number":    map[string]any{"type": "integer"},
						"member_ids":      stringListProp("members that will actually speak this round"),
					},
				},
			),
			newTool(
				"hall_begin_round",
				"Move an awaiting_user round to in_progress",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"conversation_id": stringProp(""),
						"round_number":    map[string]any{"type": "integer"},
					},
				},
			),
			newTool(
				"hall_complete_round",
				"Mark a round completed",
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"conversation_id": stringProp(""),
						"round_number":    map[string]any{"type": "integer"},
					},
				},
			),
		},
	}
}

func (s *MCPServer) handleTool(ctx context.Context, call toolCallRequest) (any, error) {
	switch call.Name {
	case "hall_create_conversation":
		return s.toolCreateConversation(ctx, call.Arguments)
	case "hall_add_member":
		return s.toolAddMember(ctx, call.Arguments)
	case "hall_archive_member":
		return s.toolArchiveMember(ctx, call.Arguments)
	case "hall_add_participant":
		return s.toolAddParticipant(ctx, call.Arguments)
	case "hall_get_roundtable":
		return s.toolGetRoundtable(ctx, call.Arguments)
	case "hall_open_round":
		return s.toolOpenRound(ctx, call.Arguments)
	case "hall_set_selections":
		return s.toolSetSelections(ctx, call.Arguments)
	case "hall_begin_round":
		return s.toolBeginRound(ctx, call.Arguments)
	case "hall_complete_round":
		return s.toolCompleteRound(ctx, call.Arguments)
	default:
		return nil, fmt.Errorf("unknown tool: %s", call.Name)
	}
}

func (s *MCPServer) toolCreateConversation(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
		Kind   string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Kind == "" {
		args.Kind = string(directory.KindHall)
	}
	conv, err := s.cfg.Directory.CreateConversation(ctx, args.UserID, args.Title, directory.ConversationKind(args.Kind))
	if err != nil {
		return nil, err
	}
	return map[string]any{"conversation": conv}, nil
}

func (s *MCPServer) toolAddMember(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		UserID  string `json:"user_id"`
		Name    string `json:"name"`
		Persona string `json:"persona"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	member, err := s.cfg.Directory.CreateMember(ctx, args.UserID, args.Name, args.Persona)
	if err != nil {
		return nil, err
	}
	return map[string]any{"member": member}, nil
}

func (s *MCPServer) toolArchiveMember(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		MemberID string `json:"member_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.cfg.Directory.ArchiveMember(ctx, args.MemberID); err != nil {
		return nil, err
	}
	return map[string]any{"status": "archived", "member_id": args.MemberID}, nil
}

func (s *MCPServer) toolAddParticipant(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ConversationID string `json:"conversation_id"`
		MemberID       string `json:"member_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := s.cfg.Directory.AddParticipant(ctx, args.ConversationID, args.MemberID); err != nil {
		return nil, err
	}
	return map[string]any{"status": "joined", "conversation_id": args.ConversationID, "member_id": args.MemberID}, nil
}

func (s *MCPServer) toolGetRoundtable(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	state, err := s.cfg.Orchestrator.Roundtable(ctx, args.ConversationID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state}, nil
}

func (s *MCPServer) toolOpenRound(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ConversationID   string                   `json:"conversation_id"`
		Trigger          string                   `json:"trigger"`
		TriggerMessageID string                   `json:"trigger_message_id"`
		MaxSpeakers      int                      `json:"max_speakers"`
		Mentions         []string                 `json:"mentions"`
		Intents          []roundtable.IntentInput `json:"intents"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Trigger == "" {
		args.Trigger = string(roundtable.TriggerUserMessage)
	}
	state, err := s.cfg.Orchestrator.OpenRound(ctx, roundtable.OpenRoundRequest{
		ConversationID:     args.ConversationID,
		Trigger:            roundtable.Trigger(args.Trigger),
		TriggerMessageID:   args.TriggerMessageID,
		MaxSpeakers:        args.MaxSpeakers,
		MentionedMemberIDs: args.Mentions,
		Intents:            args.Intents,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state}, nil
}

func (s *MCPServer) toolSetSelections(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ConversationID string   `json:"conversation_id"`
		RoundNumber    int      `json:"round_number"`
		MemberIDs      []string `json:"member_ids"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	state, err := s.cfg.Orchestrator.SetSelections(ctx, args.ConversationID, args.RoundNumber, args.MemberIDs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state}, nil
}

func (s *MCPServer) toolBeginRound(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ConversationID string `json:"conversation_id"`
		RoundNumber    int    `json:"round_number"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	state, err := s.cfg.Orchestrator.BeginRound(ctx, args.ConversationID, args.RoundNumber)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state}, nil
}

func (s *MCPServer) toolCompleteRound(ctx context.Context, raw json.RawMessage) (any, error) {
	var args struct {
		ConversationID string `json:"conversation_id"`
		RoundNumber    int    `json:"round_number"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	state, err := s.cfg.Orchestrator.CompleteRound(ctx, args.ConversationID, args.RoundNumber)
	if err != nil {
		return nil, err
	}
	return map[string]any{"state": state}, nil
}
