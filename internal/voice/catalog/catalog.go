// Package catalog mirrors the voice profile registry into PostgreSQL so that
// other services can browse profiles and query speakers by embedding
// similarity through pgvector.
//
// The catalog is a write-behind copy: the profile directory stays the source
// of truth, and every reconciliation of the [voice.Store] replaces the
// catalog contents via [Catalog.Persist].
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/voxstudio/internal/voice"
	"github.com/MrWong99/voxstudio/pkg/types"
)

// DefaultDimensions is the speaker embedding width of the CosyVoice
// campplus front end.
const DefaultDimensions = 192

const schemaTmpl = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS voice_profiles (
    name               TEXT         PRIMARY KEY,
    origin             TEXT         NOT NULL,
    sample_rate        INTEGER      NOT NULL,
    source_sample_rate INTEGER      NOT NULL DEFAULT 0,
    model_version      TEXT         NOT NULL DEFAULT '',
    embedding          vector(%d),
    created_at         TIMESTAMPTZ,
    updated_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_voice_profiles_origin ON voice_profiles (origin);
CREATE INDEX IF NOT EXISTS idx_voice_profiles_embedding
    ON voice_profiles USING hnsw (embedding vector_cosine_ops);
`

// Schema returns the DDL for an embedding width of dims.
func Schema(dims int) string { return fmt.Sprintf(schemaTmpl, dims) }

// DB is the database interface used by [Catalog]. Both *pgxpool.Pool and
// *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Match is one result of a similarity query.
type Match struct {
	Name string
	// Distance is the cosine distance to the query profile; 0 is identical.
	Distance float64
}

// Catalog is a [voice.Sink] backed by PostgreSQL.
type Catalog struct {
	db   DB
	dims int
	pool *pgxpool.Pool
}

var _ voice.Sink = (*Catalog)(nil)

// New wraps an existing connection. The caller runs [Catalog.Migrate].
// Embeddings whose width is not dims are stored as NULL.
func New(db DB, dims int) *Catalog {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &Catalog{db: db, dims: dims}
}

// Open connects to dsn, registers the pgvector types on every connection and
// migrates the schema.
func Open(ctx context.Context, dsn string, dims int) (*Catalog, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	c := New(pool, dims)
	c.pool = pool
	if err := c.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// Close releases the pool opened by [Open]. It is a no-op for catalogs built
// with [New].
func (c *Catalog) Close() error {
	if c.pool != nil {
		c.pool.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (c *Catalog) Ping(ctx context.Context) error {
	var one int
	if err := c.db.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("catalog: ping: %w", err)
	}
	return nil
}

// Migrate creates the table and indexes if they do not exist.
func (c *Catalog) Migrate(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, Schema(c.dims)); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Name implements voice.Sink.
func (c *Catalog) Name() string { return "catalog" }

const upsertQuery = `
	INSERT INTO voice_profiles (
		name, origin, sample_rate, source_sample_rate, model_version, embedding, created_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7)
	ON CONFLICT (name) DO UPDATE SET
		origin             = EXCLUDED.origin,
		sample_rate        = EXCLUDED.sample_rate,
		source_sample_rate = EXCLUDED.source_sample_rate,
		model_version      = EXCLUDED.model_version,
		embedding          = EXCLUDED.embedding,
		created_at         = EXCLUDED.created_at,
		updated_at         = now()`

const pruneQuery = `DELETE FROM voice_profiles WHERE NOT (name = ANY($1))`

// Persist implements voice.Sink. It upserts every profile, then deletes rows
// for profiles that no longer exist.
func (c *Catalog) Persist(ctx context.Context, profiles []voice.Profile) error {
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		var emb any
		if len(p.Embedding) == c.dims {
			emb = pgvector.NewVector(p.Embedding)
		}
		var created any
		if !p.CreatedAt.IsZero() {
			created = p.CreatedAt
		}
		if _, err := c.db.Exec(ctx, upsertQuery,
			p.Name, string(p.Origin), p.SampleRate, p.SourceSampleRate, p.ModelVersion, emb, created,
		); err != nil {
			return fmt.Errorf("catalog: upsert %q: %w", p.Name, err)
		}
		names = append(names, p.Name)
	}
	if _, err := c.db.Exec(ctx, pruneQuery, names); err != nil {
		return fmt.Errorf("catalog: prune: %w", err)
	}
	return nil
}

// Similar returns up to k profiles closest to name by cosine distance,
// nearest first. The query profile itself is excluded.
func (c *Catalog) Similar(ctx context.Context, name string, k int) ([]Match, error) {
	if k <= 0 {
		k = 5
	}
	var hasEmbedding bool
	err := c.db.QueryRow(ctx,
		`SELECT embedding IS NOT NULL FROM voice_profiles WHERE name = $1`, name,
	).Scan(&hasEmbedding)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("catalog: profile %q: %w", name, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: similar: %w", err)
	}
	if !hasEmbedding {
		return nil, nil
	}

	const query = `
		SELECT p.name, p.embedding <=> q.embedding AS distance
		FROM voice_profiles p, voice_profiles q
		WHERE q.name = $1
		  AND p.name <> q.name
		  AND p.embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2`

	rows, err := c.db.Query(ctx, query, name, k)
	if err != nil {
		return nil, fmt.Errorf("catalog: similar: %w", err)
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.Name, &m.Distance); err != nil {
			return nil, fmt.Errorf("catalog: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: similar: %w", err)
	}
	return out, nil
}
