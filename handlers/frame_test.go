package handlers

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/teamchat-gateway/models"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"workspaceId":"W1","channelId":"C1","message":"hi","sender":"mallory"}`))
	require.NoError(t, err)
	assert.Equal(t, models.InboundFrame{WorkspaceID: "W1", ChannelID: "C1", Message: "hi"}, f)
}

func TestParseFrame_AnyStringBody(t *testing.T) {
	for _, body := range []string{"", "   ", "\n"} {
		f, err := ParseFrame([]byte(`{"workspaceId":"W1","channelId":"C1","message":` + strconv.Quote(body) + `}`))
		require.NoError(t, err)
		assert.Equal(t, body, f.Message)
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "hello there"},
		{name: "empty", input: ""},
		{name: "array", input: `["W1","C1","hi"]`},
		{name: "null", input: `null`},
		{name: "empty object", input: `{}`},
		{name: "missing message", input: `{"workspaceId":"W1","channelId":"C1"}`},
		{name: "missing workspace", input: `{"channelId":"C1","message":"hi"}`},
		{name: "blank channel", input: `{"workspaceId":"W1","channelId":"  ","message":"hi"}`},
		{name: "null message", input: `{"workspaceId":"W1","channelId":"C1","message":null}`},
		{name: "numeric workspace", input: `{"workspaceId":1,"channelId":"C1","message":"hi"}`},
		{name: "object message", input: `{"workspaceId":"W1","channelId":"C1","message":{"text":"hi"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tt.input))
			assert.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}
