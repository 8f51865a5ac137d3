package web

import (
	"errors"

	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleContentError maps content store errors to problems.
func handleContentError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, persistence.ErrInvalidAddress):
		return badRequest(c, err.Error())
	case errors.Is(err, persistence.ErrInvalidNode):
		return notFound(c, "content_not_found", err.Error())
	default:
		return internalError(c, err)
	}
}
