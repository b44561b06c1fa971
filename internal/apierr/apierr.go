// Package apierr defines the error-kind taxonomy the HTTP layer maps to
// status codes. Internal packages (catalog, ingest, query, embeddings,
// connectors, plugins, orgconfig) construct these directly where the kind is
// known; any other error reaching the HTTP layer maps to 500.
package apierr

import "fmt"

type Kind string

const (
	KindBadInput     Kind = "bad_input"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnauthorized Kind = "unauthorized"
	KindConfigError  Kind = "config_error"
	KindStorageError Kind = "storage_error"
	KindEmbedding    Kind = "embedding_error"
	KindProvider     Kind = "provider_error"
	KindPlugin       Kind = "plugin_error"
)

// Error is the one typed error the HTTP layer understands. Errors of any
// other type are treated as internal errors.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func BadInput(format string, args ...interface{}) *Error {
	return New(KindBadInput, fmt.Sprintf(format, args...))
}

func NotFound(entity string, key interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf("%s %v not found", entity, key))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func ConfigError(format string, args ...interface{}) *Error {
	return New(KindConfigError, fmt.Sprintf(format, args...))
}

func StorageError(cause error) *Error {
	return Wrap(KindStorageError, "storage error", cause)
}

func EmbeddingError(message string) *Error {
	return New(KindEmbedding, message)
}

func ProviderError(message string) *Error {
	return New(KindProvider, message)
}

func PluginError(message string) *Error {
	return New(KindPlugin, message)
}
