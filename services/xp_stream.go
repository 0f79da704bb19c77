package services

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// StreamPollInterval is how often the live feed checks for new ledger rows.
var StreamPollInterval = 2 * time.Second

// StreamUserXPSSE streams userID's new XP transactions as `event: xp` frames
// until the client goes away.
func (s *LedgerService) StreamUserXPSSE(c *fiber.Ctx, userID string) error {
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing user context"})
	}

	cursor, err := s.LatestTransactionID(c.UserContext(), userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to open xp stream",
			"cause": err.Error(),
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no") // nginx

	done := c.Context().Done()
	log := s.log.With(zap.String("user_id", userID))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(StreamPollInterval)
		defer ticker.Stop()

		// Initial keepalive (comment event)
		w.WriteString(":\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				txs, err := s.TransactionsAfter(ctx, userID, cursor, 100)
				cancel()
				if err != nil {
					log.Warn("xp stream query failed", zap.Error(err))
					continue
				}

				for _, t := range txs {
					payload, err := json.Marshal(t)
					if err != nil {
						continue
					}
					fmt.Fprintf(w, "id: %d\nevent: xp\ndata: %s\n\n", t.ID, payload)
					cursor = t.ID
				}
				if len(txs) == 0 {
					w.WriteString(":\n\n")
				}

				if err := w.Flush(); err != nil {
					// Client disconnected
					log.Debug("xp stream closed")
					return
				}

			case <-done:
				return
			}
		}
	})

	return nil
}
