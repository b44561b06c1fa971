package plugins

import (
	"context"

	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
)

// SimpleQuery dispatches a query_text straight to the vector store's
// nearest-neighbor search with a top_k the Query Service may further trim.
// It is the default query plugin.
type SimpleQuery struct{}

func NewSimpleQuery() *SimpleQuery { return &SimpleQuery{} }

func (p *SimpleQuery) Name() string { return "simple_query" }

func (p *SimpleQuery) Parameters() []ParamSchema {
	return []ParamSchema{
		{Name: "top_k", Type: "int", Default: 5, Description: "number of nearest neighbors to retrieve"},
		{Name: "threshold", Type: "float", Default: 0.0, Description: "minimum similarity to keep a result"},
	}
}

func (p *SimpleQuery) Query(ctx context.Context, handle vectorstore.Handle, queryText string, params map[string]interface{}) (vectorstore.QueryResult, error) {
	topK := 5
	if v, ok := params["top_k"]; ok {
		topK = toInt(v, topK)
	}
	if topK <= 0 {
		topK = 5
	}
	return handle.Query(ctx, queryText, topK)
}
