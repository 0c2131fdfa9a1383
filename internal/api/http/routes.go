package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dbourene/kinjo-production/internal/production"
)

var validate = validator.New()

// ProductionService is the part of production.Service the handlers use.
type ProductionService interface {
	Calculate(ctx context.Context, installationID string, overrides production.Overrides) (production.Summary, error)
	Status(ctx context.Context, installationID string) (production.StatusReport, error)
	Reconcile(ctx context.Context) (int, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. runTimeout
// bounds a single calculation (0 means no bound beyond the request).
func RegisterRoutes(app *fiber.App, service ProductionService, runTimeout time.Duration) {
	api := app.Group("/api")

	api.Get("/installations/:id/status", func(c *fiber.Ctx) error {
		id, err := installationID(c)
		if err != nil {
			return err
		}

		report, err := service.Status(c.UserContext(), id)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(report)
	})

	api.Post("/installations/:id/calculate-production", func(c *fiber.Ctx) error {
		id, err := installationID(c)
		if err != nil {
			return err
		}

		var overrides production.Overrides
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&overrides); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
			}
		}
		if err := validate.Struct(overrides); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx := c.UserContext()
		if runTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, runTimeout)
			defer cancel()
		}

		summary, err := service.Calculate(ctx, id, overrides)
		if err != nil {
			return mapError(err)
		}

		message := "Production calculated and uploaded"
		if summary.Simulated {
			message = "Simulated production calculated and uploaded"
		}
		return c.JSON(fiber.Map{
			"success": true,
			"message": message,
			"data":    summary,
		})
	})

	api.Post("/reconcile", func(c *fiber.Ctx) error {
		committed, err := service.Reconcile(c.UserContext())
		resp := fiber.Map{
			"success":   err == nil,
			"committed": committed,
		}
		if err != nil {
			resp["message"] = err.Error()
			return c.Status(fiber.StatusInternalServerError).JSON(resp)
		}
		return c.JSON(resp)
	})
}

type installationParam struct {
	ID string `validate:"required,max=128"`
}

func installationID(c *fiber.Ctx) (string, error) {
	p := installationParam{ID: strings.TrimSpace(c.Params("id"))}
	if err := validate.Struct(p); err != nil {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid installation id")
	}
	return p.ID, nil
}

// mapError turns a service error into a status code. Inconsistent runs are
// checked before storage errors since they match both.
func mapError(err error) error {
	switch {
	case errors.Is(err, production.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, production.ErrInvalidParameters), errors.Is(err, production.ErrInvalidInstallation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, production.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, production.ErrConfiguration):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, production.ErrUpstream):
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	case errors.Is(err, production.ErrInconsistent):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	case errors.Is(err, production.ErrStorage):
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "calculation timed out")
	case errors.Is(err, context.Canceled):
		return fiber.NewError(fiber.StatusRequestTimeout, "calculation cancelled")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to calculate production")
	}
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}
