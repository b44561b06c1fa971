package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/rs/zerolog/log"
)

// PgvectorStore implements Driver using PostgreSQL with the pgvector
// extension. Users must provide their own PostgreSQL instance with pgvector
// installed; the connection URL comes from KB_PGVECTOR_URL. Each collection
// gets its own table, sized to the dimensionality of its bound embedding
// function, since collections may use different embedding models.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

func NewPgvectorStore(ctx context.Context, connURL string) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector extension: %w", err)
	}
	log.Info().Msg("pgvector store initialized")
	return &PgvectorStore{pool: pool}, nil
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

var tableNameRe = regexp.MustCompile(`[^a-z0-9_]+`)

func tableFor(collection string) string {
	sanitized := tableNameRe.ReplaceAllString(strings.ToLower(collection), "_")
	return "kb_vec_" + sanitized
}

func (s *PgvectorStore) CreateCollection(ctx context.Context, name string, embed embeddings.EmbedFunc) (Handle, error) {
	table := tableFor(name)
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id        TEXT PRIMARY KEY,
			content   TEXT NOT NULL DEFAULT '',
			metadata  JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %s_ivfflat ON %s USING ivfflat (embedding vector_cosine_ops);
	`, table, embed.Dimensions(), table, table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("pgvector create collection %q: %w", name, err)
	}
	return &pgvectorHandle{pool: s.pool, name: name, table: table, embed: embed}, nil
}

func (s *PgvectorStore) GetCollection(ctx context.Context, name string, embed embeddings.EmbedFunc) (Handle, error) {
	table := tableFor(name)
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("pgvector lookup collection %q: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("vector collection %q not found", name)
	}
	return &pgvectorHandle{pool: s.pool, name: name, table: table, embed: embed}, nil
}

func (s *PgvectorStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableFor(name)))
	return err
}

func (s *PgvectorStore) RenameCollection(ctx context.Context, oldName, newName string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`ALTER TABLE IF EXISTS %s RENAME TO %s`, tableFor(oldName), tableFor(newName)))
	return err
}

func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorHandle is one collection's table.
type pgvectorHandle struct {
	pool  *pgxpool.Pool
	name  string
	table string
	embed embeddings.EmbedFunc
}

func (h *pgvectorHandle) Name() string { return h.name }

func (h *pgvectorHandle) AddBatch(ctx context.Context, ids, texts []string, metadatas []map[string]interface{}) error {
	if len(ids) == 0 {
		return nil
	}
	vectors, err := h.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (id, content, metadata, embedding) VALUES ", h.table)
	args := make([]interface{}, 0, len(ids)*4)
	for i := range ids {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*4 + 1
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base, base+1, base+2, base+3)
		metaJSON, _ := json.Marshal(metadatas[i])
		args = append(args, ids[i], texts[i], string(metaJSON), pgvectorArray(vectors[i]))
	}
	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`)

	_, err = h.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (h *pgvectorHandle) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := h.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, h.table), ids)
	return err
}

func (h *pgvectorHandle) DeleteWhere(ctx context.Context, predicate map[string]string) (int, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "DELETE FROM %s WHERE ", h.table)
	args := make([]interface{}, 0, len(predicate))
	i := 1
	first := true
	for k, v := range predicate {
		if !first {
			sb.WriteString(" AND ")
		}
		first = false
		fmt.Fprintf(&sb, "metadata->>%s LIKE $%d", pgLiteral(k), i)
		args = append(args, "%"+v+"%")
		i++
	}
	tag, err := h.pool.Exec(ctx, sb.String(), args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (h *pgvectorHandle) GetByMetadata(ctx context.Context, predicate map[string]string) (QueryResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, content, metadata FROM %s", h.table)
	args := make([]interface{}, 0, len(predicate))
	i := 1
	for k, v := range predicate {
		if i == 1 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		fmt.Fprintf(&sb, "metadata->>%s LIKE $%d", pgLiteral(k), i)
		args = append(args, "%"+v+"%")
		i++
	}

	rows, err := h.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("pgvector get by metadata: %w", err)
	}
	defer rows.Close()

	var out QueryResult
	for rows.Next() {
		var id, content, metaJSON string
		if err := rows.Scan(&id, &content, &metaJSON); err != nil {
			return QueryResult{}, fmt.Errorf("pgvector scan: %w", err)
		}
		var meta map[string]interface{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out.IDs = append(out.IDs, id)
		out.Texts = append(out.Texts, content)
		out.Metadatas = append(out.Metadatas, meta)
		out.Distances = append(out.Distances, 0)
	}
	return out, rows.Err()
}

func (h *pgvectorHandle) Query(ctx context.Context, queryText string, topK int) (QueryResult, error) {
	if topK <= 0 {
		return QueryResult{}, nil
	}
	vectors, err := h.embed.Embed(ctx, []string{queryText})
	if err != nil {
		return QueryResult{}, err
	}

	query := fmt.Sprintf(`SELECT id, content, metadata, embedding <=> $1 AS distance FROM %s ORDER BY embedding <=> $1 LIMIT $2`, h.table)
	rows, err := h.pool.Query(ctx, query, pgvectorArray(vectors[0]), topK)
	if err != nil {
		return QueryResult{}, fmt.Errorf("pgvector query: %w", err)
	}
	defer rows.Close()

	var out QueryResult
	for rows.Next() {
		var id, content, metaJSON string
		var distance float64
		if err := rows.Scan(&id, &content, &metaJSON, &distance); err != nil {
			return QueryResult{}, fmt.Errorf("pgvector scan: %w", err)
		}
		var meta map[string]interface{}
		_ = json.Unmarshal([]byte(metaJSON), &meta)
		out.IDs = append(out.IDs, id)
		out.Texts = append(out.Texts, content)
		out.Metadatas = append(out.Metadatas, meta)
		out.Distances = append(out.Distances, distance)
	}
	return out, rows.Err()
}

func (h *pgvectorHandle) Count(ctx context.Context) (int, error) {
	var count int
	err := h.pool.QueryRow(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, h.table)).Scan(&count)
	return count, err
}

// pgvectorArray converts a float32 slice to pgvector's text literal format: [1,2,3]
func pgvectorArray(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g", f)
	}
	sb.WriteByte(']')
	return sb.String()
}

func pgLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
