package catalog

const schemaDDL = `
CREATE TABLE IF NOT EXISTS collections (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	name             TEXT NOT NULL,
	owner            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	visibility       TEXT NOT NULL DEFAULT 'private',
	creation_date    TIMESTAMP NOT NULL,
	embeddings_model TEXT NOT NULL,
	vector_uuid      TEXT NOT NULL,
	UNIQUE (name, owner)
);

CREATE TABLE IF NOT EXISTS file_registry (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	collection_id     INTEGER NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	original_filename TEXT NOT NULL,
	file_path         TEXT NOT NULL DEFAULT '',
	file_url          TEXT NOT NULL DEFAULT '',
	file_size         INTEGER NOT NULL DEFAULT 0,
	content_type      TEXT NOT NULL DEFAULT '',
	plugin_name       TEXT NOT NULL,
	plugin_params     TEXT NOT NULL DEFAULT '{}',
	status            TEXT NOT NULL DEFAULT 'processing',
	document_count    INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	owner             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_file_registry_collection ON file_registry (collection_id);
CREATE INDEX IF NOT EXISTS idx_collections_owner ON collections (owner);
`
