package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/karthikraju391/teamchat-gateway/models"
)

type JetStreamConfig struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
}

// JetStreamStore appends records to a file-backed JetStream stream, one
// subject per workspace/channel pair. It has no read side.
type JetStreamStore struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	cfg    JetStreamConfig
	logger *slog.Logger
	now    func() time.Time
}

// DialJetStream connects to NATS and ensures the message stream exists.
func DialJetStream(ctx context.Context, cfg JetStreamConfig, logger *slog.Logger) (*JetStreamStore, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("teamchat-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	s, err := NewJetStreamStore(ctx, nc, cfg, logger)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// NewJetStreamStore uses an existing connection; Close will close it.
func NewJetStreamStore(ctx context.Context, nc *nats.Conn, cfg JetStreamConfig, logger *slog.Logger) (*JetStreamStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stream, err := js.Stream(ctx, cfg.Stream)
	if err != nil {
		logger.Info("stream not found, creating", "stream", cfg.Stream)
		stream, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Description: "Encrypted chat message records",
			Subjects:    []string{cfg.SubjectPrefix + ".>"},
			MaxAge:      cfg.MaxAge,
			Storage:     jetstream.FileStorage,
			Duplicates:  2 * time.Minute,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %q: %w", cfg.Stream, err)
		}
	}
	logger.Info("using jetstream stream", "stream", stream.CachedInfo().Config.Name)

	return &JetStreamStore{nc: nc, js: js, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Subject returns the subject records of one channel are stored under.
func (s *JetStreamStore) Subject(workspaceID, channelID string) (string, error) {
	for _, tok := range []string{workspaceID, channelID} {
		if tok == "" || strings.ContainsAny(tok, ".*> \t\r\n") {
			return "", fmt.Errorf("invalid subject token %q", tok)
		}
	}
	return fmt.Sprintf("%s.%s.%s", s.cfg.SubjectPrefix, workspaceID, channelID), nil
}

func (s *JetStreamStore) Append(ctx context.Context, rec *models.Message) (string, error) {
	subject, err := s.Subject(rec.WorkspaceID, rec.ChannelID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersist, err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal message: %w", ErrPersist, err)
	}

	ack, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(rec.ID))
	if err != nil {
		return "", fmt.Errorf("%w: failed to publish message to subject %q: %w", ErrPersist, subject, err)
	}
	s.logger.Debug("stored message", "subject", subject, "id", rec.ID, "seq", ack.Sequence)
	return rec.ID, nil
}

func (s *JetStreamStore) History(context.Context, string, int) ([]models.Message, error) {
	return nil, ErrHistoryUnsupported
}

func (s *JetStreamStore) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
