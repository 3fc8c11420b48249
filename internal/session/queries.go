package session

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AddMessageParams holds parameters for AddMessage.
type AddMessageParams struct {
	SessionID      pgtype.UUID
	Role           string
	Content        string
	SequenceNumber int32
}

// RecentMessagesParams holds parameters for RecentMessages.
type RecentMessagesParams struct {
	SessionID   pgtype.UUID
	ResultLimit int32
}

// PruneMessagesParams holds parameters for PruneMessages. Keep is the
// number of most recent messages to retain.
type PruneMessagesParams struct {
	SessionID pgtype.UUID
	Keep      int32
}

// MessageRow is one stored conversation message.
type MessageRow struct {
	Role           string
	Content        string
	SequenceNumber int32
}

// ErrNoRows is returned when a lookup matches nothing.
var ErrNoRows = errors.New("no rows")

// Querier defines the database operations the session store depends on.
// The interface is defined here, by the consumer, so tests can supply
// mocks without a database.
type Querier interface {
	CreateSession(ctx context.Context, id pgtype.UUID) error
	SessionExists(ctx context.Context, id pgtype.UUID) (bool, error)
	LockSession(ctx context.Context, id pgtype.UUID) error
	TouchSession(ctx context.Context, id pgtype.UUID) error
	MaxSequence(ctx context.Context, sessionID pgtype.UUID) (int32, error)
	AddMessage(ctx context.Context, arg AddMessageParams) error
	RecentMessages(ctx context.Context, arg RecentMessagesParams) ([]MessageRow, error)
	PruneMessages(ctx context.Context, arg PruneMessagesParams) error
}

// rowQuerier is the subset of pgx operations queries needs; both
// *pgxpool.Pool and pgx.Tx satisfy it.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db rowQuerier
}

// NewQuerier returns a Querier backed by a connection pool.
func NewQuerier(pool *pgxpool.Pool) Querier {
	return &queries{db: pool}
}

// NewTxQuerier returns a Querier that runs inside an open transaction.
func NewTxQuerier(tx pgx.Tx) Querier {
	return &queries{db: tx}
}

const createSessionSQL = `
INSERT INTO sessions (id)
VALUES ($1)
ON CONFLICT (id) DO NOTHING`

func (q *queries) CreateSession(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, createSessionSQL, id)
	return err
}

const sessionExistsSQL = `
SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`

func (q *queries) SessionExists(ctx context.Context, id pgtype.UUID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, sessionExistsSQL, id).Scan(&exists)
	return exists, err
}

// lockSessionSQL takes a row lock so only one transaction at a time can
// append to a session, keeping sequence numbers gapless.
const lockSessionSQL = `
SELECT id FROM sessions WHERE id = $1 FOR UPDATE`

func (q *queries) LockSession(ctx context.Context, id pgtype.UUID) error {
	var locked pgtype.UUID
	err := q.db.QueryRow(ctx, lockSessionSQL, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

const touchSessionSQL = `
UPDATE sessions SET updated_at = now() WHERE id = $1`

func (q *queries) TouchSession(ctx context.Context, id pgtype.UUID) error {
	_, err := q.db.Exec(ctx, touchSessionSQL, id)
	return err
}

const maxSequenceSQL = `
SELECT COALESCE(MAX(sequence_number), 0)
FROM session_messages
WHERE session_id = $1`

func (q *queries) MaxSequence(ctx context.Context, sessionID pgtype.UUID) (int32, error) {
	var max int32
	err := q.db.QueryRow(ctx, maxSequenceSQL, sessionID).Scan(&max)
	return max, err
}

const addMessageSQL = `
INSERT INTO session_messages (session_id, role, content, sequence_number)
VALUES ($1, $2, $3, $4)`

func (q *queries) AddMessage(ctx context.Context, arg AddMessageParams) error {
	_, err := q.db.Exec(ctx, addMessageSQL,
		arg.SessionID, arg.Role, arg.Content, arg.SequenceNumber)
	return err
}

// recentMessagesSQL returns the newest messages first; the store
// reverses them into conversation order.
const recentMessagesSQL = `
SELECT role, content, sequence_number
FROM session_messages
WHERE session_id = $1
ORDER BY sequence_number DESC
LIMIT $2`

func (q *queries) RecentMessages(ctx context.Context, arg RecentMessagesParams) ([]MessageRow, error) {
	rows, err := q.db.Query(ctx, recentMessagesSQL, arg.SessionID, arg.ResultLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MessageRow
	for rows.Next() {
		var row MessageRow
		if err := rows.Scan(&row.Role, &row.Content, &row.SequenceNumber); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

const pruneMessagesSQL = `
DELETE FROM session_messages
WHERE session_id = $1
  AND sequence_number <= (
      SELECT COALESCE(MAX(sequence_number), 0)
      FROM session_messages
      WHERE session_id = $1
  ) - $2`

func (q *queries) PruneMessages(ctx context.Context, arg PruneMessagesParams) error {
	_, err := q.db.Exec(ctx, pruneMessagesSQL, arg.SessionID, arg.Keep)
	return err
}
