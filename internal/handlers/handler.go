// Package handlers exposes the directory and roundtable operations over HTTP.
package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/farzinnasiri/the-council-sub001/internal/directory"
	"github.com/farzinnasiri/the-council-sub001/internal/roundtable"
)

type Handler struct {
	Directory    *directory.Store
	Orchestrator *roundtable.Orchestrator
	Logger       *slog.Logger
}

func New(dir *directory.Store, orch *roundtable.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{Directory: dir, Orchestrator: orch, Logger: logger}
}

func (h *Handler) Register(app *fiber.App) {
	api := app.Group("/api")
	api.Post("/conversations", h.CreateConversation)
	api.Get("/conversations/:conversation", h.GetConversation)
	api.Post("/conversations/:conversation/participants", h.AddParticipant)
	api.Post("/members", h.CreateMember)
	api.Get("/members", h.ListMembers)
	api.Delete("/members/:member", h.ArchiveMember)

	api.Get("/conversations/:conversation/roundtable", h.GetRoundtable)
	api.Post("/conversations/:conversation/roundtable/rounds", h.OpenRound)
	api.Put("/conversations/:conversation/roundtable/rounds/:number/selections", h.SetSelections)
	api.Post("/conversations/:conversation/roundtable/rounds/:number/begin", h.BeginRound)
	api.Post("/conversations/:conversation/roundtable/rounds/:number/complete", h.CompleteRound)
}

// fail maps failure kinds onto HTTP statuses: missing records are 404, state
// machine violations 409, validation failures 422, everything else 500.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	kind := roundtable.KindOf(err)
	switch kind {
	case roundtable.KindNotFound:
		status = fiber.StatusNotFound
	case roundtable.KindInvalidState:
		status = fiber.StatusConflict
	case roundtable.KindDuplicateMember, roundtable.KindLimitExceeded, roundtable.KindNotEligible, roundtable.KindInvalidTarget:
		status = fiber.StatusUnprocessableEntity
	}
	if status == fiber.StatusInternalServerError {
		h.Logger.Error("request failed", "path", c.Path(), "error", err)
	}
	body := fiber.Map{"error": err.Error()}
	if kind != "" {
		body["kind"] = string(kind)
	}
	return c.Status(status).JSON(body)
}

type createConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
	Kind   string `json:"kind"`
}

func (h *Handler) CreateConversation(c *fiber.Ctx) error {
	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	conv, err := h.Directory.CreateConversation(c.Context(), req.UserID, req.Title, directory.ConversationKind(req.Kind))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

func (h *Handler) GetConversation(c *fiber.Ctx) error {
	conv, err := h.Directory.GetConversation(c.Context(), c.Params("conversation"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(conv)
}

type createMemberRequest struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Persona string `json:"persona"`
}

func (h *Handler) CreateMember(c *fiber.Ctx) error {
	var req createMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	member, err := h.Directory.CreateMember(c.Context(), req.UserID, req.Name, req.Persona)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(member)
}

func (h *Handler) ListMembers(c *fiber.Ctx) error {
	members, err := h.Directory.ListMembers(c.Context(), c.Query("user_id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(members)
}

func (h *Handler) ArchiveMember(c *fiber.Ctx) error {
	if err := h.Directory.ArchiveMember(c.Context(), c.Params("member")); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type addParticipantRequest struct {
	MemberID string `json:"member_id"`
}

func (h *Handler) AddParticipant(c *fiber.Ctx) error {
	var req addParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if err := h.Directory.AddParticipant(c.Context(), c.Params("conversation"), req.MemberID); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GetRoundtable(c *fiber.Ctx) error {
	state, err := h.Orchestrator.Roundtable(c.Context(), c.Params("conversation"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(state)
}

type openRoundRequest struct {
	Trigger          string                   `json:"trigger"`
	TriggerMessageID string                   `json:"trigger_message_id"`
	MaxSpeakers      int                      `json:"max_speakers"`
	Mentions         []string                 `json:"mentions"`
	Intents          []roundtable.IntentInput `json:"intents"`
}

func (h *Handler) OpenRound(c *fiber.Ctx) error {
	var req openRoundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	state, err := h.Orchestrator.OpenRound(c.Context(), roundtable.OpenRoundRequest{
		ConversationID:     c.Params("conversation"),
		Trigger:            roundtable.Trigger(req.Trigger),
		TriggerMessageID:   req.TriggerMessageID,
		MaxSpeakers:        req.MaxSpeakers,
		MentionedMemberIDs: req.Mentions,
		Intents:            req.Intents,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(state)
}

type setSelectionsRequest struct {
	MemberIDs []string `json:"member_ids"`
}

func (h *Handler) SetSelections(c *fiber.Ctx) error {
	number, err := c.ParamsInt("number")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid round number"})
	}
	var req setSelectionsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	state, err := h.Orchestrator.SetSelections(c.Context(), c.Params("conversation"), number, req.MemberIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(state)
}

func (h *Handler) BeginRound(c *fiber.Ctx) error {
	number, err := c.ParamsInt("number")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid round number"})
	}
	state, err := h.Orchestrator.BeginRound(c.Context(), c.Params("conversation"), number)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(state)
}

func (h *Handler) CompleteRound(c *fiber.Ctx) error {
	number, err := c.ParamsInt("number")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid round number"})
	}
	state, err := h.Orchestrator.CompleteRound(c.Context(), c.Params("conversation"), number)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(state)
}
