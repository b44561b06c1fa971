// Package models defines the data types shared across the knowledge base
// server: collections, file registry entries, provider descriptors, and the
// organization/assistant records the completion layer resolves against.
package models

import "time"

// ── Collection ───────────────────────────────────────────────

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// ProviderDescriptor names an embedding or LLM backend. The literal value
// "default" in Vendor, Model, Endpoint or APIKey means "substitute from
// process-wide defaults at creation time"; once substituted it never
// reappears in a persisted record.
type ProviderDescriptor struct {
	Vendor   string `json:"vendor"`
	Model    string `json:"model"`
	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

const DefaultSentinel = "default"

// Collection pairs relational metadata with an independent vector-index
// namespace. Name is unique within Owner. EmbeddingModel is immutable after
// creation except for Endpoint/APIKey.
type Collection struct {
	ID             int64              `json:"id" db:"id"`
	Name           string             `json:"name" db:"name"`
	Owner          string             `json:"owner" db:"owner"`
	Description    string             `json:"description" db:"description"`
	Visibility     Visibility         `json:"visibility" db:"visibility"`
	CreationDate   time.Time          `json:"creation_date" db:"creation_date"`
	EmbeddingModel ProviderDescriptor `json:"embeddings_model" db:"embeddings_model"`
	VectorUUID     string             `json:"vector_uuid" db:"vector_uuid"`
}

// ── FileRegistry ─────────────────────────────────────────────

type FileStatus string

const (
	FileStatusProcessing FileStatus = "processing"
	FileStatusCompleted  FileStatus = "completed"
	FileStatusFailed     FileStatus = "failed"
	FileStatusDeleted    FileStatus = "deleted"
)

// FileRegistry is the durable record of one ingestion job.
type FileRegistry struct {
	ID               int64                  `json:"id" db:"id"`
	CollectionID     int64                  `json:"collection_id" db:"collection_id"`
	OriginalFilename string                 `json:"original_filename" db:"original_filename"`
	FilePath         string                 `json:"file_path" db:"file_path"`
	FileURL          string                 `json:"file_url" db:"file_url"`
	FileSize         int64                  `json:"file_size" db:"file_size"`
	ContentType      string                 `json:"content_type" db:"content_type"`
	PluginName       string                 `json:"plugin_name" db:"plugin_name"`
	PluginParams     map[string]interface{} `json:"plugin_params" db:"plugin_params"`
	Status           FileStatus             `json:"status" db:"status"`
	DocumentCount    int                    `json:"document_count" db:"document_count"`
	CreatedAt        time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at" db:"updated_at"`
	Owner            string                 `json:"owner" db:"owner"`
}

// ── Chunk ────────────────────────────────────────────────────

// Chunk is one (text, metadata, embedding) unit handed to the vector store.
// Embedding is populated by the adapter, never by a plugin.
type Chunk struct {
	Text      string                 `json:"text"`
	Metadata  map[string]interface{} `json:"metadata"`
	Embedding []float32              `json:"-"`
}

// Required metadata keys every chunk must carry before it reaches the
// vector store.
const (
	MetaSource             = "source"
	MetaFilename           = "filename"
	MetaFileURL            = "file_url"
	MetaChunkingStrategy   = "chunking_strategy"
	MetaChunkIndex         = "chunk_index"
	MetaChunkCount         = "chunk_count"
	MetaIngestionTimestamp = "ingestion_timestamp"
	MetaDocumentID         = "document_id"
	MetaEmbeddingVendor    = "embedding_vendor"
	MetaEmbeddingModel     = "embedding_model"
)

// ── Vector store result ──────────────────────────────────────

// QueryResult is one hit returned from a vector-store query, already
// converted from distance to similarity by the Query Service.
type QueryResult struct {
	ID         string                 `json:"id"`
	Text       string                 `json:"data"`
	Metadata   map[string]interface{} `json:"metadata"`
	Similarity float64                `json:"similarity"`
}

// ── Organization config (read-only to the core) ──────────────

// ProviderConfig is the resolved, per-vendor configuration an organization
// (or the system tenant, via env fallback) has configured for an LLM or
// embedding vendor.
type ProviderConfig struct {
	Enabled      bool     `json:"enabled"`
	Models       []string `json:"models,omitempty"`
	DefaultModel string   `json:"default_model,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
	Endpoint     string   `json:"endpoint,omitempty"`
}

// KnowledgeBaseConfig points an organization's completion layer at its
// knowledge-base server instance.
type KnowledgeBaseConfig struct {
	ServerURL string `json:"server_url"`
	APIToken  string `json:"api_token"`
}

// OrgConfig is the resolved configuration bundle for one (owner, setup).
type OrgConfig struct {
	Providers      map[string]ProviderConfig `json:"providers"`
	KnowledgeBase  KnowledgeBaseConfig       `json:"knowledge_base"`
	Features       map[string]bool           `json:"features"`
	IsSystemTenant bool                      `json:"-"`
}

// ── Assistant (read-only to the core) ────────────────────────

type Assistant struct {
	ID                  string            `json:"id"`
	Owner               string            `json:"owner"`
	Name                string            `json:"name"`
	SystemPrompt        string            `json:"system_prompt,omitempty"`
	PromptTemplate      string            `json:"prompt_template,omitempty"`
	RAGProcessorName    string            `json:"rag_processor_name,omitempty"`
	PromptProcessorName string            `json:"prompt_processor_name,omitempty"`
	ConnectorName       string            `json:"connector_name"`
	LLMName             string            `json:"llm_name"`
	RAGCollections      string            `json:"rag_collections,omitempty"` // comma-separated ids
	RAGTopK             int               `json:"rag_top_k,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// ── Chat completion types ────────────────────────────────────

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatDelta is the incremental content of one streamed chunk.
type ChatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type ChatChoice struct {
	Index        int          `json:"index"`
	Delta        ChatDelta    `json:"delta,omitempty"`
	Message      *ChatMessage `json:"message,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

// ChatChunk matches the OpenAI chat-completion chunk schema. Both
// streamed chunks and the single buffered response use this shape.
type ChatChunk struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
}

// ChatRequest is the normalized inbound completion request, decoded from
// whichever of messages/prompt/params.prompt the caller supplied.
type ChatRequest struct {
	Model    string                 `json:"model"`
	Messages []ChatMessage          `json:"messages,omitempty"`
	Stream   bool                   `json:"stream"`
	Body     map[string]interface{} `json:"-"`
}
