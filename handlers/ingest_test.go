package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karthikraju391/teamchat-gateway/encryption"
	"github.com/karthikraju391/teamchat-gateway/hub"
	"github.com/karthikraju391/teamchat-gateway/models"
	"github.com/karthikraju391/teamchat-gateway/store"
)

// memStore records appended messages, or fails when err is set.
type memStore struct {
	mu   sync.Mutex
	recs []models.Message
	err  error
}

func (s *memStore) Append(_ context.Context, rec *models.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	rec.ID = "rec-" + rec.ChannelID
	s.recs = append(s.recs, *rec)
	return rec.ID, nil
}

func (s *memStore) records() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Message(nil), s.recs...)
}

type denyAuthorizer struct {
	allowed map[string]bool // "user/workspace/channel"
	err     error
}

func (a denyAuthorizer) CanPost(_ context.Context, user, ws, ch string) (bool, error) {
	if a.err != nil {
		return false, a.err
	}
	return a.allowed[user+"/"+ws+"/"+ch], nil
}

type pipelineFixture struct {
	hub      *hub.Hub
	store    *memStore
	cipher   *encryption.Cipher
	pipeline *Pipeline
}

func newPipelineFixture(t *testing.T, cfg PipelineConfig) *pipelineFixture {
	t.Helper()
	h := hub.New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		h.Wait()
	})

	c, err := encryption.New("chat-secret", encryption.ModeRandomIV)
	require.NoError(t, err)

	st := &memStore{}
	cfg.Hub = h
	cfg.Cipher = c
	if cfg.Store == nil {
		cfg.Store = st
	}
	return &pipelineFixture{hub: h, store: st, cipher: c, pipeline: NewPipeline(cfg)}
}

func (f *pipelineFixture) client(t *testing.T, user string) *hub.Client {
	t.Helper()
	c := hub.NewClient(user, 16)
	require.NoError(t, f.hub.Admit(c))
	return c
}

func received(t *testing.T, c *hub.Client) []models.OutboundFrame {
	t.Helper()
	var out []models.OutboundFrame
	for {
		select {
		case raw := <-c.Send():
			var f models.OutboundFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestPipeline_PersistsAndBroadcasts(t *testing.T) {
	f := newPipelineFixture(t, PipelineConfig{})
	u1 := f.client(t, "U1")

	err := f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"hi"}`))
	require.NoError(t, err)

	recs := f.store.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "U1", recs[0].Sender)
	assert.Equal(t, "W1", recs[0].WorkspaceID)
	assert.Equal(t, "C1", recs[0].ChannelID)
	assert.NotEqual(t, "hi", recs[0].EncryptedText)

	plain, err := f.cipher.Decrypt(recs[0].EncryptedText)
	require.NoError(t, err)
	assert.Equal(t, "hi", plain)

	assert.Equal(t, []models.OutboundFrame{{Sender: "U1", ChannelID: "C1", Message: "hi"}}, received(t, u1))
}

func TestPipeline_SenderComesFromConnection(t *testing.T) {
	f := newPipelineFixture(t, PipelineConfig{})
	u1 := f.client(t, "U1")
	u2 := f.client(t, "U2")
	require.NoError(t, f.pipeline.HandleFrame(context.Background(), u2, []byte(`{"workspaceId":"W1","channelId":"C1","message":"join"}`)))
	received(t, u2)

	err := f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"hi","sender":"U2"}`))
	require.NoError(t, err)

	recs := f.store.records()
	require.Len(t, recs, 2)
	assert.Equal(t, "U1", recs[1].Sender)

	for _, c := range []*hub.Client{u1, u2} {
		frames := received(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, "U1", frames[0].Sender)
	}
}

func TestPipeline_MalformedFrameIsDropped(t *testing.T) {
	f := newPipelineFixture(t, PipelineConfig{})
	u1 := f.client(t, "U1")

	err := f.pipeline.HandleFrame(context.Background(), u1, []byte("not json at all"))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.Empty(t, f.store.records())
	assert.Empty(t, received(t, u1))
}

func TestPipeline_PersistFailureSuppressesBroadcast(t *testing.T) {
	failing := &memStore{err: errors.New("disk full")}
	f := newPipelineFixture(t, PipelineConfig{Store: failing})
	u1 := f.client(t, "U1")
	u2 := f.client(t, "U2")

	// U2 joins W1 while the store still works.
	f.pipeline.store = f.store
	require.NoError(t, f.pipeline.HandleFrame(context.Background(), u2, []byte(`{"workspaceId":"W1","channelId":"C1","message":"join"}`)))
	received(t, u2)
	f.pipeline.store = failing

	err := f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"lost"}`))
	assert.ErrorIs(t, err, store.ErrPersist)
	assert.Empty(t, received(t, u1))
	assert.Empty(t, received(t, u2))
	assert.Equal(t, map[string]int{"W1": 1}, f.hub.Stats().Rooms, "failed frame does not join the sender")
}

func TestPipeline_Unauthorized(t *testing.T) {
	az := denyAuthorizer{allowed: map[string]bool{"U1/W1/C1": true}}
	f := newPipelineFixture(t, PipelineConfig{Authorizer: az})
	u1 := f.client(t, "U1")
	u2 := f.client(t, "U2")

	require.NoError(t, f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"ok"}`)))
	err := f.pipeline.HandleFrame(context.Background(), u2, []byte(`{"workspaceId":"W1","channelId":"C1","message":"intruder"}`))
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Len(t, f.store.records(), 1)
	assert.Len(t, received(t, u1), 1)
	assert.Empty(t, received(t, u2))
}

func TestPipeline_AuthorizerErrorDropsFrame(t *testing.T) {
	f := newPipelineFixture(t, PipelineConfig{Authorizer: denyAuthorizer{err: errors.New("db down")}})
	u1 := f.client(t, "U1")

	err := f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"hi"}`))
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, f.store.records())
}

func TestPipeline_IncludeWorkspaceID(t *testing.T) {
	f := newPipelineFixture(t, PipelineConfig{IncludeWorkspaceID: true})
	u1 := f.client(t, "U1")

	require.NoError(t, f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"hi"}`)))
	frames := received(t, u1)
	require.Len(t, frames, 1)
	assert.Equal(t, "W1", frames[0].WorkspaceID)
}

func TestPipeline_OmitsWorkspaceIDByDefault(t *testing.T) {
	f := newPipelineFixture(t, PipelineConfig{})
	u1 := f.client(t, "U1")

	require.NoError(t, f.pipeline.HandleFrame(context.Background(), u1, []byte(`{"workspaceId":"W1","channelId":"C1","message":"hi"}`)))
	raw := <-u1.Send()
	assert.JSONEq(t, `{"sender":"U1","channelId":"C1","message":"hi"}`, string(raw))
}
