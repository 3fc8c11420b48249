// Package session persists bounded conversation history to PostgreSQL.
//
// Each session keeps only the most recent exchanges: appends happen
// under a row lock so sequence numbers stay gapless under concurrent
// writers, and older messages are pruned in the same transaction.
//
// Store is safe for concurrent use by multiple goroutines.
package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Role constants for stored messages.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultWindow is the number of past exchanges kept per session.
const DefaultWindow = 2

// Message is a single conversation message in sequence order.
type Message struct {
	Role     string
	Content  string
	Sequence int
}

// Store manages session lifecycles and bounded history.
type Store struct {
	querier Querier
	pool    *pgxpool.Pool // nil in unit tests; disables transactional appends
	window  int           // exchanges (user+assistant pairs) retained
	logger  *slog.Logger
}

// New creates a Store retaining window exchanges per session.
// A non-positive window falls back to DefaultWindow.
//
// Example (production):
//
//	session.New(session.NewQuerier(pool), pool, cfg.HistoryWindow, logger)
//
// Example (testing):
//
//	session.New(mockQuerier, nil, 2, nil)
func New(querier Querier, pool *pgxpool.Pool, window int, logger *slog.Logger) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		querier: querier,
		pool:    pool,
		window:  window,
		logger:  logger,
	}
}

// GetOrCreate resolves a client-supplied session identifier to a live
// session, creating one when the identifier is empty, malformed, or
// unknown. A stale identifier silently yields a fresh session rather
// than an error, so clients keep working across server restarts.
func (s *Store) GetOrCreate(ctx context.Context, sessionID string) (uuid.UUID, error) {
	if sessionID != "" {
		id, err := uuid.Parse(sessionID)
		if err == nil {
			exists, err := s.querier.SessionExists(ctx, uuidToPg(id))
			if err != nil {
				return uuid.Nil, fmt.Errorf("checking session %s: %w", id, err)
			}
			if exists {
				return id, nil
			}
			s.logger.Debug("unknown session id, creating new session", "id", sessionID)
		} else {
			s.logger.Debug("malformed session id, creating new session", "id", sessionID)
		}
	}

	id := uuid.New()
	if err := s.querier.CreateSession(ctx, uuidToPg(id)); err != nil {
		return uuid.Nil, fmt.Errorf("creating session: %w", err)
	}
	s.logger.Debug("created session", "id", id)
	return id, nil
}

// History returns the retained messages for a session in conversation
// order (oldest first). At most window exchanges are returned; a new
// session yields an empty slice.
func (s *Store) History(ctx context.Context, id uuid.UUID) ([]Message, error) {
	rows, err := s.querier.RecentMessages(ctx, RecentMessagesParams{
		SessionID:   uuidToPg(id),
		ResultLimit: int32(s.window * 2),
	})
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", id, err)
	}

	// Rows arrive newest first; reverse into conversation order.
	messages := make([]Message, len(rows))
	for i, row := range rows {
		messages[len(rows)-1-i] = Message{
			Role:     row.Role,
			Content:  row.Content,
			Sequence: int(row.SequenceNumber),
		}
	}
	return messages, nil
}

// AppendExchange records one completed user/assistant exchange and
// prunes history beyond the retention window, all in one transaction.
// Nothing is written if either message fails to insert.
func (s *Store) AppendExchange(ctx context.Context, id uuid.UUID, userMsg, assistantMsg string) error {
	// Without a pool (mock-backed tests) append non-transactionally.
	if s.pool == nil {
		return s.appendExchangeTx(ctx, s.querier, id, userMsg, assistantMsg)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			s.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	if err := s.appendExchangeTx(ctx, NewTxQuerier(tx), id, userMsg, assistantMsg); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing exchange for %s: %w", id, err)
	}
	return nil
}

func (s *Store) appendExchangeTx(ctx context.Context, q Querier, id uuid.UUID, userMsg, assistantMsg string) error {
	pgID := uuidToPg(id)

	// Row lock serializes concurrent appends to the same session.
	if err := q.LockSession(ctx, pgID); err != nil {
		return fmt.Errorf("locking session %s: %w", id, err)
	}

	maxSeq, err := q.MaxSequence(ctx, pgID)
	if err != nil {
		return fmt.Errorf("reading max sequence for %s: %w", id, err)
	}

	if err := q.AddMessage(ctx, AddMessageParams{
		SessionID:      pgID,
		Role:           RoleUser,
		Content:        userMsg,
		SequenceNumber: maxSeq + 1,
	}); err != nil {
		return fmt.Errorf("inserting user message: %w", err)
	}
	if err := q.AddMessage(ctx, AddMessageParams{
		SessionID:      pgID,
		Role:           RoleAssistant,
		Content:        assistantMsg,
		SequenceNumber: maxSeq + 2,
	}); err != nil {
		return fmt.Errorf("inserting assistant message: %w", err)
	}

	if err := q.PruneMessages(ctx, PruneMessagesParams{
		SessionID: pgID,
		Keep:      int32(s.window * 2),
	}); err != nil {
		return fmt.Errorf("pruning history for %s: %w", id, err)
	}
	if err := q.TouchSession(ctx, pgID); err != nil {
		return fmt.Errorf("touching session %s: %w", id, err)
	}

	s.logger.Debug("appended exchange", "session", id, "sequence", maxSeq+2)
	return nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
