// handlers/xp_routes.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"imi-student-dashboard/middleware"
	"imi-student-dashboard/services"

	"github.com/gofiber/fiber/v2"
)

const requestTimeout = 10 * time.Second

// ApplyXPRequest is the body of POST /s/xp/transactions.
type ApplyXPRequest struct {
	UserID         string          `json:"userId"`
	XPAmount       *int64          `json:"xpAmount"`
	Source         string          `json:"source"`
	SourceID       json.RawMessage `json:"sourceId"`
	Description    string          `json:"description"`
	SubmissionDate string          `json:"submissionDate"`
}

// toInput validates the request and converts it for the ledger.
func (r ApplyXPRequest) toInput() (services.ApplyXPInput, error) {
	in := services.ApplyXPInput{
		UserID:      strings.TrimSpace(r.UserID),
		Source:      r.Source,
		Description: r.Description,
	}
	if in.UserID == "" {
		return in, fmt.Errorf("%w: userId is required", services.ErrInvalidInput)
	}
	if r.XPAmount == nil {
		return in, fmt.Errorf("%w: xpAmount is required", services.ErrInvalidInput)
	}
	if *r.XPAmount == 0 {
		return in, fmt.Errorf("%w: xpAmount must be non-zero", services.ErrInvalidInput)
	}
	in.XPAmount = *r.XPAmount
	if strings.TrimSpace(r.Source) == "" {
		return in, fmt.Errorf("%w: source is required", services.ErrInvalidInput)
	}

	sourceID, err := scalarString(r.SourceID)
	if err != nil {
		return in, fmt.Errorf("%w: sourceId: %v", services.ErrInvalidInput, err)
	}
	in.SourceID = sourceID

	if r.SubmissionDate != "" {
		d, err := ParseSubmissionDate(r.SubmissionDate)
		if err != nil {
			return in, fmt.Errorf("%w: submissionDate: %v", services.ErrInvalidInput, err)
		}
		in.SubmissionDate = d
	}
	return in, nil
}

// ParseSubmissionDate accepts a calendar date (2024-01-08) or an RFC 3339 timestamp.
func ParseSubmissionDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	return time.Parse(time.RFC3339, s)
}

// scalarString flattens a JSON string/number/bool into its text form.
func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("must be a string, number or boolean")
	default:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// SetupXPRoutes mounts the ledger API. service is the gateway-authenticated
// router (/s), user and xp the student-authenticated ones (/user, /xp).
func SetupXPRoutes(service, user, xp fiber.Router, ledger *services.LedgerService, statements *services.StatementService) {
	// 🔐 Server-to-server: submission pipelines credit and debit XP here.
	service.Post("/xp/transactions", func(c *fiber.Ctx) error {
		var req ApplyXPRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid JSON",
				"cause": err.Error(),
			})
		}
		in, err := req.toInput()
		if err != nil {
			return writeError(c, err)
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		summary, err := ledger.ApplyXPTransaction(ctx, in)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(summary)
	})

	service.Post("/xp/balances/:userId", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		bal, err := ledger.ProvisionBalance(ctx, c.Params("userId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(bal)
	})

	service.Get("/xp/audit/:userId", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		report, err := ledger.Audit(ctx, c.Params("userId"))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(report)
	})

	// 🔐 Student routes
	user.Get("/xp", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		view, err := ledger.GetBalance(ctx, middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(view)
	})

	user.Post("/xp/provision", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		bal, created, err := ledger.EnsureBalance(ctx, middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		status := fiber.StatusOK
		if created {
			status = fiber.StatusCreated
		}
		return c.Status(status).JSON(bal)
	})

	user.Get("/xp/transactions", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))

		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		history, err := ledger.ListTransactions(ctx, middleware.UserID(c), page, size)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(history)
	})

	user.Post("/xp/statement", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 30*time.Second)
		defer cancel()

		url, err := statements.Export(ctx, middleware.UserID(c))
		if err != nil {
			return writeError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"url": url})
	})

	user.Get("/xp/stream", func(c *fiber.Ctx) error {
		return ledger.StreamUserXPSSE(c, middleware.UserID(c))
	})

	xp.Get("/leaderboard", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "10"))

		ctx, cancel := context.WithTimeout(c.UserContext(), requestTimeout)
		defer cancel()

		entries, err := ledger.Leaderboard(ctx, limit)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(entries)
	})
}
