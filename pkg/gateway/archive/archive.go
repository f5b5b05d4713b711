// Package archive keeps a durable copy of final evaluations and transcripts
// in Postgres. The upstream backend has no endpoint for evaluations, so this
// is the system of record for them when configured.
package archive

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// ErrNotFound is returned by Latest when a session has no archived evaluation.
var ErrNotFound = errors.New("archive: not found")

// Record is one archived evaluation.
type Record struct {
	ID          string
	SessionID   string
	CandidateID string
	TemplateID  string
	Evaluation  types.Evaluation
	Transcript  []types.Turn
	CreatedAt   time.Time
}

// Postgres archives evaluations into the interview_evaluations table.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to dsn, verifies the connection and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool, now: time.Now}, nil
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("archive migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("archive migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("archive migrate up: %w", err)
	}
	return nil
}

// SaveEvaluation stores ev with the session's transcript and returns the record id.
func (p *Postgres) SaveEvaluation(ctx context.Context, sess types.Session, ev types.Evaluation) (string, error) {
	evJSON, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encode evaluation: %w", err)
	}
	history := sess.ConversationHistory
	if history == nil {
		history = []types.Turn{}
	}
	trJSON, err := json.Marshal(history)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	id := ulid.Make().String()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO interview_evaluations
			(id, session_id, candidate_id, template_id, recommendation,
			 communication_score, technical_score, clarity_score,
			 evaluation, transcript, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, sess.SessionID, sess.CandidateID, sess.TemplateID, string(ev.Recommendation),
		ev.CommunicationScore, ev.TechnicalScore, ev.ClarityScore,
		evJSON, trJSON, p.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("archive insert %s: %w", sess.SessionID, err)
	}
	return id, nil
}

// Latest returns the most recent evaluation archived for sessionID.
func (p *Postgres) Latest(ctx context.Context, sessionID string) (Record, error) {
	var (
		rec    Record
		evJSON []byte
		trJSON []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, session_id, candidate_id, template_id, evaluation, transcript, created_at
		FROM interview_evaluations
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, sessionID,
	).Scan(&rec.ID, &rec.SessionID, &rec.CandidateID, &rec.TemplateID, &evJSON, &trJSON, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("archive lookup %s: %w", sessionID, err)
	}
	if err := json.Unmarshal(evJSON, &rec.Evaluation); err != nil {
		return Record{}, fmt.Errorf("decode evaluation: %w", err)
	}
	if err := json.Unmarshal(trJSON, &rec.Transcript); err != nil {
		return Record{}, fmt.Errorf("decode transcript: %w", err)
	}
	return rec, nil
}

// Ping checks connectivity for readiness probes.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}
