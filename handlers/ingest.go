package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karthikraju391/teamchat-gateway/authz"
	"github.com/karthikraju391/teamchat-gateway/encryption"
	"github.com/karthikraju391/teamchat-gateway/hub"
	"github.com/karthikraju391/teamchat-gateway/metrics"
	"github.com/karthikraju391/teamchat-gateway/models"
	"github.com/karthikraju391/teamchat-gateway/store"
)

// ErrUnauthorized is returned when the sender may not post to the frame's
// workspace channel.
var ErrUnauthorized = errors.New("not authorized to post")

type PipelineConfig struct {
	Hub        *hub.Hub
	Cipher     *encryption.Cipher
	Store      store.Appender
	Authorizer authz.Authorizer // nil allows every frame
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	// IncludeWorkspaceID adds workspaceId to relayed frames.
	IncludeWorkspaceID bool
	PersistTimeout     time.Duration
}

// Pipeline turns one inbound frame into a stored record and a broadcast.
type Pipeline struct {
	hub                *hub.Hub
	cipher             *encryption.Cipher
	store              store.Appender
	authorizer         authz.Authorizer
	metrics            *metrics.Metrics
	logger             *slog.Logger
	includeWorkspaceID bool
	persistTimeout     time.Duration
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Authorizer == nil {
		cfg.Authorizer = authz.AllowAll{}
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Pipeline{
		hub:                cfg.Hub,
		cipher:             cfg.Cipher,
		store:              cfg.Store,
		authorizer:         cfg.Authorizer,
		metrics:            cfg.Metrics,
		logger:             cfg.Logger,
		includeWorkspaceID: cfg.IncludeWorkspaceID,
		persistTimeout:     cfg.PersistTimeout,
	}
}

// HandleFrame processes one raw frame from client. Every failure is logged
// here; the returned error only classifies the outcome and must not close the
// connection.
func (p *Pipeline) HandleFrame(ctx context.Context, client *hub.Client, raw []byte) error {
	log := p.logger.With("conn", client.ID, "user", client.UserID)

	frame, err := ParseFrame(raw)
	if err != nil {
		p.metrics.Frame(metrics.OutcomeMalformed)
		log.Warn("dropping malformed frame", "error", err, "bytes", len(raw))
		return err
	}
	log = log.With("workspace", frame.WorkspaceID, "channel", frame.ChannelID)

	ok, err := p.authorizer.CanPost(ctx, client.UserID, frame.WorkspaceID, frame.ChannelID)
	if err != nil || !ok {
		p.metrics.Frame(metrics.OutcomeUnauthorized)
		if err != nil {
			log.Error("authorization check failed, dropping frame", "error", err)
			return fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		log.Warn("sender may not post here, dropping frame")
		return ErrUnauthorized
	}

	ciphertext, err := p.cipher.Encrypt(frame.Message)
	if err != nil {
		p.metrics.Frame(metrics.OutcomePersistError)
		log.Error("failed to encrypt message", "error", err)
		return fmt.Errorf("%w: %w", store.ErrPersist, err)
	}

	// Stored before fan-out: a failure here means no peer sees the frame.
	rec := &models.Message{
		WorkspaceID:   frame.WorkspaceID,
		ChannelID:     frame.ChannelID,
		Sender:        client.UserID,
		EncryptedText: ciphertext,
	}
	persistCtx, cancel := context.WithTimeout(ctx, p.persistTimeout)
	start := time.Now()
	id, err := p.store.Append(persistCtx, rec)
	cancel()
	p.metrics.ObservePersist(time.Since(start).Seconds())
	if err != nil {
		p.metrics.Frame(metrics.OutcomePersistError)
		log.Error("failed to persist message, broadcast suppressed", "error", err)
		if !errors.Is(err, store.ErrPersist) {
			err = fmt.Errorf("%w: %w", store.ErrPersist, err)
		}
		return err
	}

	out := models.OutboundFrame{
		Sender:    client.UserID,
		ChannelID: frame.ChannelID,
		Message:   frame.Message,
	}
	if p.includeWorkspaceID {
		out.WorkspaceID = frame.WorkspaceID
	}
	payload, err := json.Marshal(out)
	if err != nil {
		log.Error("failed to marshal outbound frame", "error", err, "record", id)
		return err
	}

	d, err := p.hub.Publish(frame.WorkspaceID, client, payload)
	if err != nil {
		log.Warn("hub unavailable, frame stored but not broadcast", "error", err, "record", id)
		return err
	}
	p.metrics.Frame(metrics.OutcomeBroadcast)
	log.Debug("frame broadcast", "record", id, "delivered", d.Delivered, "dropped", d.Dropped)
	return nil
}
