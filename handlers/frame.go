package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/karthikraju391/teamchat-gateway/models"
)

// ErrMalformedFrame is returned for frames that are not a JSON object with
// string workspaceId, channelId and message fields. The ids must be non-blank;
// any string body, empty included, is relayed as sent.
var ErrMalformedFrame = errors.New("malformed frame")

// wireFrame uses pointers so absent fields can be told apart from empty ones.
type wireFrame struct {
	WorkspaceID *string `json:"workspaceId"`
	ChannelID   *string `json:"channelId"`
	Message     *string `json:"message"`
}

// ParseFrame decodes and validates one inbound frame. Unknown fields,
// including any client-supplied sender, are ignored.
func ParseFrame(data []byte) (models.InboundFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return models.InboundFrame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var missing []string
	if w.WorkspaceID == nil || strings.TrimSpace(*w.WorkspaceID) == "" {
		missing = append(missing, "workspaceId")
	}
	if w.ChannelID == nil || strings.TrimSpace(*w.ChannelID) == "" {
		missing = append(missing, "channelId")
	}
	if w.Message == nil {
		missing = append(missing, "message")
	}
	if len(missing) > 0 {
		return models.InboundFrame{}, fmt.Errorf("%w: missing %s", ErrMalformedFrame, strings.Join(missing, ", "))
	}

	return models.InboundFrame{
		WorkspaceID: *w.WorkspaceID,
		ChannelID:   *w.ChannelID,
		Message:     *w.Message,
	}, nil
}
