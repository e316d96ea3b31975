// Package store persists encrypted chat message records.
package store

import (
	"context"
	"errors"

	"github.com/karthikraju391/teamchat-gateway/models"
)

var (
	// ErrPersist wraps every failure to durably store a record.
	ErrPersist = errors.New("persist message")
	// ErrHistoryUnsupported is returned by drivers without a read side.
	ErrHistoryUnsupported = errors.New("message history not supported by this store")
)

// Appender durably stores one record. Append must not return until the
// record is stored or has definitively failed; on success it fills in
// rec.ID and rec.CreatedAt and returns the record id.
type Appender interface {
	Append(ctx context.Context, rec *models.Message) (string, error)
}

// HistoryReader lists records of a channel oldest first.
type HistoryReader interface {
	History(ctx context.Context, channelID string, limit int) ([]models.Message, error)
}

type Store interface {
	Appender
	HistoryReader
	Close() error
}
