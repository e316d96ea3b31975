package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/karthikraju391/teamchat-gateway/auth"
	"github.com/karthikraju391/teamchat-gateway/encryption"
	"github.com/karthikraju391/teamchat-gateway/metrics"
	"github.com/karthikraju391/teamchat-gateway/models"
	"github.com/karthikraju391/teamchat-gateway/store"
)

// DecryptPlaceholder replaces bodies that fail to decrypt.
const DecryptPlaceholder = "Error: Could not decrypt message"

// ChannelReader is implemented by authorizers that can gate history reads.
type ChannelReader interface {
	CanRead(ctx context.Context, userID, channelID string) (bool, error)
}

// DecryptHistory decrypts msgs in order. A record that fails to decrypt is
// kept with DecryptPlaceholder as its body.
func DecryptHistory(c *encryption.Cipher, msgs []models.Message, logger *slog.Logger, m *metrics.Metrics) []models.HistoryEntry {
	out := make([]models.HistoryEntry, 0, len(msgs))
	for _, msg := range msgs {
		body, err := c.Decrypt(msg.EncryptedText)
		if err != nil {
			m.DecryptFailed()
			logger.Warn("failed to decrypt message", "id", msg.ID, "error", err)
			body = DecryptPlaceholder
		}
		out = append(out, models.HistoryEntry{
			ID:        msg.ID,
			Sender:    msg.Sender,
			ChannelID: msg.ChannelID,
			Message:   body,
			CreatedAt: msg.CreatedAt,
		})
	}
	return out
}

type historyHandler struct {
	reader  store.HistoryReader
	cipher  *encryption.Cipher
	access  ChannelReader
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func (h *historyHandler) get(c *fiber.Ctx) error {
	channelID := c.Params("channelId")
	userID := auth.UserID(c)

	if h.access != nil {
		ok, err := h.access.CanRead(c.UserContext(), userID, channelID)
		if err != nil {
			h.logger.Error("history authorization failed", "user", userID, "channel", channelID, "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Internal server error"})
		}
		if !ok {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"success": false, "message": "Forbidden: You cannot read this channel"})
		}
	}

	msgs, err := h.reader.History(c.UserContext(), channelID, c.QueryInt("limit", store.DefaultHistoryLimit))
	if err != nil {
		if errors.Is(err, store.ErrHistoryUnsupported) {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"success": false, "message": err.Error()})
		}
		h.logger.Error("failed to load history", "channel", channelID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "Internal server error"})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"messages": DecryptHistory(h.cipher, msgs, h.logger, h.metrics),
	})
}
