package web

import (
	"log/slog"
	"net/url"
	"sort"

	"github.com/dukex/operion-monitor/pkg/models"
	"github.com/dukex/operion-monitor/pkg/persistence"
	"github.com/dukex/operion-monitor/pkg/report"
	"github.com/dukex/operion-monitor/pkg/tracker"
	"github.com/gofiber/fiber/v3"
)

// RunSource exposes the state of one monitored run.
type RunSource interface {
	Tree() *report.Tree
	Store() *persistence.ContentTree
	Invocations() []tracker.Invocation
}

type APIHandlers struct {
	run    RunSource
	logger *slog.Logger
}

func NewAPIHandlers(run RunSource, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		run:    run,
		logger: logger.With("module", "web"),
	}
}

// GetReports lists every report node, optionally only those for ?subject=.
func (h *APIHandlers) GetReports(c fiber.Ctx) error {
	tree := h.run.Tree()

	keys := tree.Keys()
	if subject := c.Query("subject"); subject != "" {
		keys = tree.KeysFor(subject)
	}

	reports := make([]report.Snapshot, 0, len(keys))

	for _, key := range keys {
		node, ok := tree.Get(key)
		if !ok {
			continue
		}

		reports = append(reports, node.Snapshot())
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Key < reports[j].Key })

	return c.JSON(ReportsResponse{
		Root:       tree.Root().Key(),
		Reports:    reports,
		TotalCount: len(reports),
	})
}

func (h *APIHandlers) GetReport(c fiber.Ctx) error {
	key, err := wildcard(c)
	if err != nil {
		return badRequest(c, "Invalid report key: "+err.Error())
	}

	node, ok := h.run.Tree().Get(key)
	if !ok {
		return notFound(c, "report_not_found", "report not found")
	}

	return c.JSON(node.Snapshot())
}

// GetInvocations lists live invocations, optionally only those of ?kind=.
func (h *APIHandlers) GetInvocations(c fiber.Ctx) error {
	invocations := h.run.Invocations()

	if kind := c.Query("kind"); kind != "" {
		filtered := make([]tracker.Invocation, 0, len(invocations))

		for _, inv := range invocations {
			if string(inv.Kind) == kind {
				filtered = append(filtered, inv)
			}
		}

		invocations = filtered
	}

	return c.JSON(InvocationsResponse{
		Invocations: invocations,
		TotalCount:  len(invocations),
	})
}

// ListContent lists populated addresses under ?prefix=.
func (h *APIHandlers) ListContent(c fiber.Ctx) error {
	prefix := models.Address(c.Query("prefix"))

	addresses, err := h.run.Store().Addresses(c.Context(), prefix)
	if err != nil {
		return handleContentError(c, err)
	}

	if addresses == nil {
		addresses = []models.Address{}
	}

	return c.JSON(AddressesResponse{Prefix: prefix, Addresses: addresses})
}

func (h *APIHandlers) GetContent(c fiber.Ctx) error {
	raw, err := wildcard(c)
	if err != nil {
		return badRequest(c, "Invalid content address: "+err.Error())
	}

	addr := models.Address(raw)

	err = persistence.ValidateAddress(addr)
	if err != nil {
		return handleContentError(c, err)
	}

	node, err := h.run.Store().Node(c.Context(), addr)
	if err != nil {
		h.logger.ErrorContext(c.Context(), "Failed to read content", "address", addr, "error", err)

		return handleContentError(c, err)
	}

	if node.IsMissing() {
		return notFound(c, "content_not_found", "content not found")
	}

	return c.JSON(TransformContentNode(node))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	err := h.run.Store().Backend().HealthCheck(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"reports": h.run.Tree().Len(),
	})
}

func wildcard(c fiber.Ctx) (string, error) {
	return url.PathUnescape(c.Params("*"))
}
