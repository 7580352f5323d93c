// Package httpapi implements the REST handlers of the matching service.
//
// Mutating match routes expect an x-actor-id header (and optionally
// x-actor-kind) forwarded by the Gateway.
//
// Routes:
//
//	GET  /health                          → liveness
//	POST /claimants/:id/reconcile         → run the match reconciler
//	POST /claimants/:id/prune             → delete untouched low-score matches
//	GET  /claimants/:id/matches           → list matches, best first
//	GET  /matches/:id                     → one match
//	POST /matches/:id/status              → forward transition or close
//	POST /matches/:id/reopen              → move back to an active status
//	PUT  /matches/:id/notes               → set or clear advisor notes
//	GET  /matches/:id/history             → status history
package httpapi

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
	"jobmate/matching-service/internal/matching"
	"jobmate/matching-service/internal/model"
	"jobmate/matching-service/internal/review"
)

// Reconciler is the matching side of the service. *matching.Reconciler
// satisfies it.
type Reconciler interface {
	Run(ctx context.Context, req matching.Request) (*matching.Report, error)
	Prune(ctx context.Context, claimantID int64, below float64) (int64, error)
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	rec     Reconciler
	svc     *review.Service
	version string
	log     *zap.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(rec Reconciler, svc *review.Service, version string, log *zap.Logger) *Handler {
	return &Handler{rec: rec, svc: svc, version: version, log: logger.WithFields(log, zap.String("component", "http"))}
}

// NewApp builds a fiber app with every route mounted.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "matching-service",
		DisableStartupMessage: true,
		ErrorHandler:          h.errorHandler,
	})
	app.Use(recover.New())
	h.RegisterRoutes(app)
	return app
}

// RegisterRoutes mounts all matching-service routes on router.
func (h *Handler) RegisterRoutes(router fiber.Router) {
	router.Get("/health", h.health)

	claimants := router.Group("/claimants/:id")
	claimants.Post("/reconcile", h.reconcile)
	claimants.Post("/prune", h.prune)
	claimants.Get("/matches", h.listMatches)

	router.Get("/matches/:id", h.getMatch)
	matches := router.Group("/matches/:id")
	matches.Post("/status", h.transition)
	matches.Post("/reopen", h.reopen)
	matches.Put("/notes", h.notes)
	matches.Get("/history", h.history)
}

// ─── Individual handlers ──────────────────────────────────────────────────────

func (h *Handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "matching-service",
		"version": h.version,
	})
}

func (h *Handler) reconcile(c *fiber.Ctx) error {
	claimantID, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		CriteriaID int64    `json:"criteria_id"`
		PostingIDs []int64  `json:"posting_ids"`
		Threshold  *float64 `json:"threshold"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
	}

	rep, err := h.rec.Run(c.UserContext(), matching.Request{
		ClaimantID: claimantID,
		CriteriaID: body.CriteriaID,
		PostingIDs: body.PostingIDs,
		Threshold:  body.Threshold,
	})
	if err != nil {
		if rep != nil {
			return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error(), "report": rep})
		}
		return err
	}
	return c.JSON(rep)
}

func (h *Handler) prune(c *fiber.Ctx) error {
	claimantID, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Below *float64 `json:"below"`
	}
	if err := c.BodyParser(&body); err != nil || body.Below == nil {
		return fiber.NewError(fiber.StatusBadRequest, "body must contain below")
	}
	n, err := h.rec.Prune(c.UserContext(), claimantID, *body.Below)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"claimant_id": claimantID, "deleted": n})
}

func (h *Handler) listMatches(c *fiber.Ctx) error {
	claimantID, err := pathID(c)
	if err != nil {
		return err
	}
	matches, err := h.svc.ListMatches(c.UserContext(), claimantID, model.MatchFilter{
		Status: c.Query("status"),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return err
	}
	return c.JSON(matches)
}

func (h *Handler) getMatch(c *fiber.Ctx) error {
	matchID, err := pathID(c)
	if err != nil {
		return err
	}
	m, err := h.svc.GetMatch(c.UserContext(), matchID)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *Handler) transition(c *fiber.Ctx) error {
	return h.move(c, h.svc.TransitionMatchStatus)
}

func (h *Handler) reopen(c *fiber.Ctx) error {
	return h.move(c, h.svc.Reopen)
}

func (h *Handler) move(c *fiber.Ctx, fn func(context.Context, int64, string, review.Actor) (*model.Match, error)) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	matchID, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.BodyParser(&body); err != nil || body.Status == "" {
		return fiber.NewError(fiber.StatusBadRequest, "body must contain status")
	}
	m, err := fn(c.UserContext(), matchID, body.Status, actor)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *Handler) notes(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	matchID, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}
	m, err := h.svc.UpdateAdvisorNotes(c.UserContext(), matchID, body.Notes, actor)
	if err != nil {
		return err
	}
	return c.JSON(m)
}

func (h *Handler) history(c *fiber.Ctx) error {
	matchID, err := pathID(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.History(c.UserContext(), matchID)
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "id must be a positive integer")
	}
	return id, nil
}

func actorFrom(c *fiber.Ctx) (review.Actor, error) {
	id := c.Get("x-actor-id")
	if id == "" {
		return review.Actor{}, fiber.NewError(fiber.StatusUnauthorized, "missing x-actor-id header")
	}
	return review.Actor{ID: id, Kind: c.Get("x-actor-kind")}, nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	var ve *model.ValidationError
	var pf *matching.PartialFailureError
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve):
		return fiber.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, matching.ErrRunInProgress):
		return fiber.StatusConflict
	case errors.As(err, &pf), model.IsTransient(err):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	msg := err.Error()
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		msg = ve.Msg
	}
	if code == fiber.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
		msg = "internal server error"
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
