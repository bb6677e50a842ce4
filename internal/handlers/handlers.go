// Package handlers implements the HTTP/WebSocket Adapter (§4.9) on top
// of Fiber, the teacher's web framework of choice.
package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"atomic-guide-cac/internal/actor"
	"atomic-guide-cac/internal/domain"
	"atomic-guide-cac/internal/engine"
	"atomic-guide-cac/internal/errs"
	"atomic-guide-cac/internal/metrics"
	"atomic-guide-cac/internal/store"
)

type Handler struct {
	engine              *engine.Engine
	actors              *actor.Registry
	store               store.Store
	logger              zerolog.Logger
	conflictRetryBudget int
}

func NewHandler(eng *engine.Engine, actors *actor.Registry, st store.Store, logger zerolog.Logger, conflictRetryBudget int) *Handler {
	return &Handler{engine: eng, actors: actors, store: st, logger: logger, conflictRetryBudget: conflictRetryBudget}
}

// withConflictRetry re-runs fn while it fails with an optimistic-lock
// Conflict, per §7's "Actor treats Conflict internally with a bounded
// retry (<=3) before surfacing." fn is expected to reload the session's
// current version on each attempt, so a retry naturally picks up
// whatever committed out from under the previous attempt.
func (h *Handler) withConflictRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= h.conflictRetryBudget; attempt++ {
		err = fn()
		if err == nil || !errs.Is(err, errs.Conflict) {
			return err
		}
	}
	return err
}

type initializeRequest struct {
	Config    domain.AssessmentConfig `json:"config"`
	CourseRef string                  `json:"courseRef"`
}

// CreateSession handles POST /sessions → initialize.
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing principal")
	}

	var req initializeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	session, err := h.engine.Initialize(c.Context(), &req.Config, principal.Subject, req.CourseRef)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// GetSession handles GET /sessions/:id → read-through via the actor,
// forcing the lazy timeout check.
func (h *Handler) GetSession(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing principal")
	}
	sessionID := c.Params("id")

	var session *domain.Session
	sessionActor := h.actors.Get(sessionID)
	if err := sessionActor.Do(func() error {
		var doErr error
		session, doErr = h.engine.GetSession(c.Context(), sessionID)
		return doErr
	}); err != nil {
		return writeEngineError(c, err)
	}

	if !authorizeSessionAccess(principal, session.StudentRef, session.CourseRef, false) {
		return fiber.NewError(fiber.StatusForbidden, "not authorized for this session")
	}
	return c.JSON(session)
}

type respondRequest struct {
	Text           string `json:"text"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// Respond handles POST /sessions/:id/respond → processResponse.
func (h *Handler) Respond(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing principal")
	}
	sessionID := c.Params("id")

	var req respondRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	start := time.Now()
	var session *domain.Session
	sessionActor := h.actors.Get(sessionID)
	err := h.withConflictRetry(func() error {
		return sessionActor.Do(func() error {
			current, loadErr := h.engine.GetSession(c.Context(), sessionID)
			if loadErr != nil {
				return loadErr
			}
			if !authorizeSessionAccess(principal, current.StudentRef, current.CourseRef, true) {
				return errs.New(errs.Forbidden, "not authorized for this session")
			}

			var procErr error
			session, procErr = h.engine.ProcessResponse(c.Context(), sessionID, req.Text, req.ResponseTimeMs)
			return procErr
		})
	})

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(session)
}

// Retry handles POST /sessions/:id/retry → retryLastAI.
func (h *Handler) Retry(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing principal")
	}
	sessionID := c.Params("id")

	var session *domain.Session
	sessionActor := h.actors.Get(sessionID)
	err := h.withConflictRetry(func() error {
		return sessionActor.Do(func() error {
			current, loadErr := h.engine.GetSession(c.Context(), sessionID)
			if loadErr != nil {
				return loadErr
			}
			if !authorizeSessionAccess(principal, current.StudentRef, current.CourseRef, true) {
				return errs.New(errs.Forbidden, "not authorized for this session")
			}
			var retryErr error
			session, retryErr = h.engine.RetryLastAI(c.Context(), sessionID)
			return retryErr
		})
	})
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(session)
}

// Grade handles POST /sessions/:id/grade → calculateFinalGrade.
func (h *Handler) Grade(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing principal")
	}
	sessionID := c.Params("id")

	session, err := h.engine.GetSession(c.Context(), sessionID)
	if err != nil {
		return writeEngineError(c, err)
	}
	if !authorizeSessionAccess(principal, session.StudentRef, session.CourseRef, false) {
		return fiber.NewError(fiber.StatusForbidden, "not authorized for this session")
	}

	grade, err := h.engine.CalculateFinalGrade(c.Context(), sessionID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(grade)
}

// Audit handles GET /sessions/:id/audit, the supplemental audit read
// endpoint.
func (h *Handler) Audit(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "missing principal")
	}
	sessionID := c.Params("id")

	session, err := h.engine.GetSession(c.Context(), sessionID)
	if err != nil {
		return writeEngineError(c, err)
	}
	if !authorizeSessionAccess(principal, session.StudentRef, session.CourseRef, false) {
		return fiber.NewError(fiber.StatusForbidden, "not authorized for this session")
	}

	entries, err := h.store.Audit(c.Context(), sessionID)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(entries)
}

// Health reports liveness, matching the teacher's plain health probe.
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "service": "atomic-guide-cac"})
}

func writeEngineError(c *fiber.Ctx, err error) error {
	kind, ok := errs.KindOf(err)
	if !ok {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return fiberErr
		}
		return fiber.NewError(fiber.StatusInternalServerError, "internal error")
	}

	status := fiber.StatusInternalServerError
	switch kind {
	case errs.NotFound:
		status = fiber.StatusNotFound
	case errs.ConfigInvalid, errs.InvalidStatus, errs.InvalidTransition:
		status = fiber.StatusBadRequest
	case errs.Conflict:
		status = fiber.StatusConflict
	case errs.Timeout:
		status = fiber.StatusRequestTimeout
	case errs.IntegrityBlocked:
		status = fiber.StatusUnprocessableEntity
	case errs.LLMUnavailable:
		status = fiber.StatusBadGateway
	case errs.Unauthorized:
		status = fiber.StatusUnauthorized
	case errs.Forbidden:
		status = fiber.StatusForbidden
	}
	return c.Status(status).JSON(fiber.Map{"error": string(kind), "message": err.Error()})
}
