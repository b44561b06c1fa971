// Package catalog implements the Metadata Catalog: the relational
// source of truth for Collection and FileRegistry rows, backed by a single
// SQLite database file. It is the only component that pairs a catalog row
// with a Vector Store collection, and the only writer of FileRegistry.status.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store is the Metadata Catalog. It never generates embeddings itself; it
// resolves provider descriptors through the Embedding Function Factory and
// delegates index operations to the Vector Store Driver.
type Store struct {
	db      *sql.DB
	vector  vectorstore.Driver
	factory *embeddings.Factory
}

func Open(path string, vector vectorstore.Driver, factory *embeddings.Factory) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer discipline, short transactions only
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}
	return &Store{db: db, vector: vector, factory: factory}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func vectorName(owner, name string) string {
	return owner + "__" + name
}

// CreateCollection resolves the embedding descriptor, pairs a new vector
// collection with a new catalog row, and compensates if the row insert
// fails after the vector collection was created.
func (s *Store) CreateCollection(ctx context.Context, name, owner, description string, visibility models.Visibility, descriptor models.ProviderDescriptor) (*models.Collection, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections WHERE name = ? AND owner = ?`, name, owner).Scan(&exists); err != nil {
		return nil, apierr.StorageError(err)
	}
	if exists > 0 {
		return nil, apierr.Conflict("collection %q already exists for owner %q", name, owner)
	}

	embed, resolved, err := s.factory.Build(ctx, descriptor, true)
	if err != nil {
		return nil, err
	}

	vname := vectorName(owner, name)
	if _, err := s.vector.CreateCollection(ctx, vname, embed); err != nil {
		return nil, apierr.StorageError(err)
	}

	embeddingsJSON, err := json.Marshal(resolved)
	if err != nil {
		_ = s.vector.DeleteCollection(ctx, vname)
		return nil, fmt.Errorf("marshal embeddings_model: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO collections (name, owner, description, visibility, creation_date, embeddings_model, vector_uuid) VALUES (?,?,?,?,?,?,?)`,
		name, owner, description, string(visibility), now, string(embeddingsJSON), vname,
	)
	if err != nil {
		// compensating action: the vector collection must not outlive the failed row
		if delErr := s.vector.DeleteCollection(ctx, vname); delErr != nil {
			log.Error().Err(delErr).Str("collection", vname).Msg("failed to compensate vector collection after catalog insert failure")
		}
		return nil, apierr.StorageError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apierr.StorageError(err)
	}

	return &models.Collection{
		ID:             id,
		Name:           name,
		Owner:          owner,
		Description:    description,
		Visibility:     visibility,
		CreationDate:   now,
		EmbeddingModel: resolved,
		VectorUUID:     vname,
	}, nil
}

func (s *Store) GetCollection(ctx context.Context, id int64) (*models.Collection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner, description, visibility, creation_date, embeddings_model, vector_uuid FROM collections WHERE id = ?`, id)
	return scanCollection(row)
}

func scanCollection(row *sql.Row) (*models.Collection, error) {
	var c models.Collection
	var visibility, embeddingsJSON string
	if err := row.Scan(&c.ID, &c.Name, &c.Owner, &c.Description, &visibility, &c.CreationDate, &embeddingsJSON, &c.VectorUUID); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("collection", nil)
		}
		return nil, apierr.StorageError(err)
	}
	c.Visibility = models.Visibility(visibility)
	if err := json.Unmarshal([]byte(embeddingsJSON), &c.EmbeddingModel); err != nil {
		return nil, fmt.Errorf("unmarshal embeddings_model: %w", err)
	}
	return &c, nil
}

// ListCollections paginates by offset; ordering is unspecified.
func (s *Store) ListCollections(ctx context.Context, owner, visibility string, skip, limit int) (int, []models.Collection, error) {
	var sb strings.Builder
	sb.WriteString(`WHERE 1=1`)
	var args []interface{}
	if owner != "" {
		sb.WriteString(` AND owner = ?`)
		args = append(args, owner)
	}
	if visibility != "" {
		sb.WriteString(` AND visibility = ?`)
		args = append(args, visibility)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM collections `+sb.String(), args...).Scan(&total); err != nil {
		return 0, nil, apierr.StorageError(err)
	}

	query := `SELECT id, name, owner, description, visibility, creation_date, embeddings_model, vector_uuid FROM collections ` + sb.String() + ` LIMIT ? OFFSET ?`
	args = append(args, limit, skip)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, apierr.StorageError(err)
	}
	defer rows.Close()

	var items []models.Collection
	for rows.Next() {
		var c models.Collection
		var visibility, embeddingsJSON string
		if err := rows.Scan(&c.ID, &c.Name, &c.Owner, &c.Description, &visibility, &c.CreationDate, &embeddingsJSON, &c.VectorUUID); err != nil {
			return 0, nil, apierr.StorageError(err)
		}
		c.Visibility = models.Visibility(visibility)
		_ = json.Unmarshal([]byte(embeddingsJSON), &c.EmbeddingModel)
		items = append(items, c)
	}
	return total, items, rows.Err()
}

// CollectionUpdate carries the mutable Collection fields. Vendor and
// model are deliberately absent: the caller logs and ignores attempts to
// change them, so they never reach this struct.
type CollectionUpdate struct {
	Name        *string
	Description *string
	Visibility  *models.Visibility
	Endpoint    *string
	APIKey      *string
}

func (s *Store) UpdateCollection(ctx context.Context, id int64, upd CollectionUpdate) (*models.Collection, error) {
	existing, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}

	newName := existing.Name
	if upd.Name != nil && *upd.Name != existing.Name {
		newName = *upd.Name
		if err := s.vector.RenameCollection(ctx, existing.VectorUUID, vectorName(existing.Owner, newName)); err != nil {
			return nil, apierr.StorageError(err)
		}
	}
	newVectorUUID := vectorName(existing.Owner, newName)

	if upd.Description != nil {
		existing.Description = *upd.Description
	}
	if upd.Visibility != nil {
		existing.Visibility = *upd.Visibility
	}
	if upd.Endpoint != nil {
		existing.EmbeddingModel.Endpoint = *upd.Endpoint
	}
	if upd.APIKey != nil {
		existing.EmbeddingModel.APIKey = *upd.APIKey
	}
	existing.Name = newName
	existing.VectorUUID = newVectorUUID

	embeddingsJSON, err := json.Marshal(existing.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings_model: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE collections SET name=?, description=?, visibility=?, embeddings_model=?, vector_uuid=? WHERE id=?`,
		existing.Name, existing.Description, string(existing.Visibility), string(embeddingsJSON), existing.VectorUUID, id,
	)
	if err != nil {
		return nil, apierr.StorageError(err)
	}
	return existing, nil
}

// DeleteCollection is idempotent w.r.t. partially missing resources.
func (s *Store) DeleteCollection(ctx context.Context, id int64) (removedEmbeddings int, removedFiles []string, err error) {
	c, err := s.GetCollection(ctx, id)
	if err != nil {
		return 0, nil, err
	}

	var handle vectorstore.Handle
	if h, herr := s.vector.GetCollection(ctx, c.VectorUUID, nil); herr == nil {
		handle = h
		removedEmbeddings, _ = handle.Count(ctx)
	}
	if delErr := s.vector.DeleteCollection(ctx, c.VectorUUID); delErr != nil {
		log.Warn().Err(delErr).Str("collection", c.VectorUUID).Msg("vector collection missing or failed to delete during collection delete")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT file_path FROM file_registry WHERE collection_id = ?`, id)
	if err == nil {
		for rows.Next() {
			var path string
			if rows.Scan(&path) == nil && path != "" {
				removedFiles = append(removedFiles, path)
			}
		}
		rows.Close()
	}
	for _, path := range removedFiles {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", path).Msg("upload file missing or failed to remove during collection delete")
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = ?`, id); err != nil {
		return removedEmbeddings, removedFiles, apierr.StorageError(err)
	}
	return removedEmbeddings, removedFiles, nil
}

// ── FileRegistry ─────────────────────────────────────────────

func (s *Store) CreateFileRegistry(ctx context.Context, f *models.FileRegistry) (*models.FileRegistry, error) {
	paramsJSON, err := json.Marshal(f.PluginParams)
	if err != nil {
		return nil, fmt.Errorf("marshal plugin_params: %w", err)
	}
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	if f.Status == "" {
		f.Status = models.FileStatusProcessing
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO file_registry (collection_id, original_filename, file_path, file_url, file_size, content_type, plugin_name, plugin_params, status, document_count, created_at, updated_at, owner)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		f.CollectionID, f.OriginalFilename, f.FilePath, f.FileURL, f.FileSize, f.ContentType, f.PluginName, string(paramsJSON), string(f.Status), f.DocumentCount, now, now, f.Owner,
	)
	if err != nil {
		return nil, apierr.StorageError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apierr.StorageError(err)
	}
	f.ID = id
	return f, nil
}

func (s *Store) GetFileRegistry(ctx context.Context, id int64) (*models.FileRegistry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, collection_id, original_filename, file_path, file_url, file_size, content_type, plugin_name, plugin_params, status, document_count, created_at, updated_at, owner
		 FROM file_registry WHERE id = ?`, id)
	return scanFileRegistry(row)
}

func scanFileRegistry(row *sql.Row) (*models.FileRegistry, error) {
	var f models.FileRegistry
	var status, paramsJSON string
	if err := row.Scan(&f.ID, &f.CollectionID, &f.OriginalFilename, &f.FilePath, &f.FileURL, &f.FileSize, &f.ContentType, &f.PluginName, &paramsJSON, &status, &f.DocumentCount, &f.CreatedAt, &f.UpdatedAt, &f.Owner); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("file", nil)
		}
		return nil, apierr.StorageError(err)
	}
	f.Status = models.FileStatus(status)
	_ = json.Unmarshal([]byte(paramsJSON), &f.PluginParams)
	return &f, nil
}

func (s *Store) ListFileRegistry(ctx context.Context, collectionID int64, status string) ([]models.FileRegistry, error) {
	query := `SELECT id, collection_id, original_filename, file_path, file_url, file_size, content_type, plugin_name, plugin_params, status, document_count, created_at, updated_at, owner
			  FROM file_registry WHERE collection_id = ?`
	args := []interface{}{collectionID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.StorageError(err)
	}
	defer rows.Close()

	var out []models.FileRegistry
	for rows.Next() {
		var f models.FileRegistry
		var fstatus, paramsJSON string
		if err := rows.Scan(&f.ID, &f.CollectionID, &f.OriginalFilename, &f.FilePath, &f.FileURL, &f.FileSize, &f.ContentType, &f.PluginName, &paramsJSON, &fstatus, &f.DocumentCount, &f.CreatedAt, &f.UpdatedAt, &f.Owner); err != nil {
			return nil, apierr.StorageError(err)
		}
		f.Status = models.FileStatus(fstatus)
		_ = json.Unmarshal([]byte(paramsJSON), &f.PluginParams)
		out = append(out, f)
	}
	return out, rows.Err()
}

// TransitionStatus writes a FileRegistry entry's status (and its
// document_count when documentCount is non-nil). It does not check the
// entry's current status: any status may be written over any other.
// DeleteFile's soft delete sets "deleted" with its own UPDATE.
func (s *Store) TransitionStatus(ctx context.Context, id int64, status models.FileStatus, documentCount *int) error {
	now := time.Now().UTC()
	if documentCount != nil {
		_, err := s.db.ExecContext(ctx, `UPDATE file_registry SET status=?, document_count=?, updated_at=? WHERE id=?`, string(status), *documentCount, now, id)
		return wrapStorage(err)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE file_registry SET status=?, updated_at=? WHERE id=?`, string(status), now, id)
	return wrapStorage(err)
}

// DeleteFile removes a FileRegistry row (hard delete) or flips it to
// "deleted" (soft delete), removes its chunks from the vector store, and on
// hard delete unlinks the stored upload.
func (s *Store) DeleteFile(ctx context.Context, id int64, hard bool) (removedEmbeddings int, removedFiles []string, err error) {
	f, err := s.GetFileRegistry(ctx, id)
	if err != nil {
		return 0, nil, err
	}
	c, err := s.GetCollection(ctx, f.CollectionID)
	if err != nil {
		return 0, nil, err
	}

	if handle, herr := s.vector.GetCollection(ctx, c.VectorUUID, nil); herr == nil {
		removedEmbeddings, _ = handle.DeleteWhere(ctx, map[string]string{models.MetaFileURL: f.FileURL})
	}

	if hard {
		if f.FilePath != "" {
			if rmErr := os.Remove(f.FilePath); rmErr == nil || os.IsNotExist(rmErr) {
				removedFiles = append(removedFiles, f.FilePath)
			} else {
				log.Warn().Err(rmErr).Str("path", f.FilePath).Msg("failed to remove upload during file delete")
			}
		}
		_, err = s.db.ExecContext(ctx, `DELETE FROM file_registry WHERE id = ?`, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE file_registry SET status=?, updated_at=? WHERE id=?`, string(models.FileStatusDeleted), time.Now().UTC(), id)
	}
	return removedEmbeddings, removedFiles, wrapStorage(err)
}

func wrapStorage(err error) error {
	if err == nil {
		return nil
	}
	return apierr.StorageError(err)
}
