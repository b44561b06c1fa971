package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/connectors"
	"github.com/lamb-project/lamb-kb-server/internal/orgconfig"
	"github.com/lamb-project/lamb-kb-server/internal/query"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// noRAG is the assistant.rag_processor_name sentinel that skips retrieval
// entirely.
const noRAG = "no_rag"

// Citation names one source document a RAG-augmented answer drew on.
type Citation struct {
	CollectionID int64   `json:"collection_id"`
	DocumentID   string  `json:"document_id"`
	Source       string  `json:"source"`
	Similarity   float64 `json:"similarity"`
}

// CollectionFailure records one collection that failed during RAG fan-out
// without failing the overall request.
type CollectionFailure struct {
	CollectionID int64  `json:"collection_id"`
	Error        string `json:"error"`
}

// Outcome is the buffered result of a non-streaming Run call.
type Outcome struct {
	Response  *models.ChatChunk
	Citations []Citation
	Failures  []CollectionFailure
}

// StreamOutcome is the result of a streaming Run call.
type StreamOutcome struct {
	Chunks    <-chan models.ChatChunk
	Citations []Citation
	Failures  []CollectionFailure
}

// Orchestrator is the RAG Orchestrator: it loads an assistant,
// resolves its organization config, fans the request out to the configured
// knowledge collections, augments the prompt, and dispatches to a connector.
type Orchestrator struct {
	directory  orgconfig.Directory
	resolver   *orgconfig.Resolver
	queries    *query.Service
	connectors *connectors.Registry
}

func New(directory orgconfig.Directory, resolver *orgconfig.Resolver, queries *query.Service, connectorRegistry *connectors.Registry) *Orchestrator {
	return &Orchestrator{directory: directory, resolver: resolver, queries: queries, connectors: connectorRegistry}
}

// Request is the normalized inbound completion call into Run.
type Request struct {
	AssistantID string
	Messages    []models.ChatMessage
	Stream      bool
	Body        map[string]interface{}
}

// Run executes the full orchestration for one assistant invocation:
// resolve config, fan out RAG queries, process the prompt, and dispatch
// to the connector. Exactly one of
// Outcome/StreamOutcome is meaningful, selected by req.Stream.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, *StreamOutcome, error) {
	assistant, err := o.directory.Assistant(ctx, req.AssistantID)
	if err != nil {
		return nil, nil, err
	}

	orgCfg, err := o.resolver.Resolve(ctx, assistant.Owner, "default")
	if err != nil {
		return nil, nil, err
	}

	var citations []Citation
	var failures []CollectionFailure
	ragContext := ""

	collectionIDs := splitCollectionIDs(assistant.RAGCollections)
	if assistant.RAGProcessorName != noRAG && len(collectionIDs) > 0 {
		queryText := lastUserContent(req.Messages)
		topK := assistant.RAGTopK
		if topK <= 0 {
			topK = -1 // unset on the assistant: use the query plugin's default
		}
		docs, cites, fails := o.fanOut(ctx, collectionIDs, queryText, topK)
		citations = cites
		failures = fails
		if len(fails) == len(collectionIDs) {
			return nil, nil, apierr.StorageError(fmt.Errorf("all %d RAG collections failed", len(collectionIDs)))
		}
		ragContext = contextJSON(docs)
	}

	messages := simpleAugment(req.Messages, assistant, ragContext)

	connector, err := o.connectors.Get(assistant.ConnectorName)
	if err != nil {
		return nil, nil, err
	}

	providerCfg := orgCfg.Providers[assistant.ConnectorName]
	model, err := connectors.ResolveModel(assistant.LLMName, providerCfg)
	if err != nil {
		return nil, nil, err
	}

	result, err := connector.Connect(ctx, connectors.Request{
		Messages: messages,
		Stream:   req.Stream,
		Body:     req.Body,
		Model:    model,
		Provider: providerCfg,
	})
	if err != nil {
		return nil, nil, err
	}

	if req.Stream {
		return nil, &StreamOutcome{Chunks: result.Chunks, Citations: citations, Failures: failures}, nil
	}
	return &Outcome{Response: result.Response, Citations: citations, Failures: failures}, nil, nil
}

type ragDoc struct {
	CollectionID int64                  `json:"collection_id"`
	Text         string                 `json:"text"`
	Metadata     map[string]interface{} `json:"metadata"`
	Similarity   float64                `json:"similarity"`
}

// fanOut queries every configured collection in parallel; a
// failure on one collection does not stop the others.
func (o *Orchestrator) fanOut(ctx context.Context, collectionIDs []int64, queryText string, topK int) ([]ragDoc, []Citation, []CollectionFailure) {
	type outcome struct {
		docs     []ragDoc
		citation []Citation
		failure  *CollectionFailure
	}
	outcomes := make([]outcome, len(collectionIDs))

	var wg sync.WaitGroup
	for i, id := range collectionIDs {
		wg.Add(1)
		go func(i int, collectionID int64) {
			defer wg.Done()
			res, err := o.queries.Query(ctx, query.Request{
				CollectionID: collectionID,
				QueryText:    queryText,
				TopK:         topK,
			})
			if err != nil {
				outcomes[i].failure = &CollectionFailure{CollectionID: collectionID, Error: err.Error()}
				return
			}
			for _, r := range res.Results {
				outcomes[i].docs = append(outcomes[i].docs, ragDoc{
					CollectionID: collectionID,
					Text:         r.Text,
					Metadata:     r.Metadata,
					Similarity:   r.Similarity,
				})
				outcomes[i].citation = append(outcomes[i].citation, Citation{
					CollectionID: collectionID,
					DocumentID:   r.ID,
					Source:       fmt.Sprintf("%v", r.Metadata[models.MetaSource]),
					Similarity:   r.Similarity,
				})
			}
		}(i, id)
	}
	wg.Wait()

	var docs []ragDoc
	var citations []Citation
	var failures []CollectionFailure
	for _, oc := range outcomes {
		docs = append(docs, oc.docs...)
		citations = append(citations, oc.citation...)
		if oc.failure != nil {
			failures = append(failures, *oc.failure)
		}
	}
	return docs, citations, failures
}

func splitCollectionIDs(raw string) []int64 {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func lastUserContent(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

// simpleAugment implements the simple_augment prompt processor.
func simpleAugment(messages []models.ChatMessage, assistant *models.Assistant, ragContext string) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages))
	copy(out, messages)

	if assistant.SystemPrompt != "" {
		out = append([]models.ChatMessage{{Role: "system", Content: assistant.SystemPrompt}}, out...)
	}

	if assistant.PromptTemplate != "" {
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role != "user" {
				continue
			}
			replaced := strings.ReplaceAll(assistant.PromptTemplate, "{user_input}", out[i].Content)
			replaced = strings.ReplaceAll(replaced, "{context}", ragContext)
			out[i].Content = replaced
			break
		}
	}

	return out
}

func contextJSON(docs []ragDoc) string {
	if len(docs) == 0 {
		return ""
	}
	raw, err := json.Marshal(docs)
	if err != nil {
		return ""
	}
	return string(raw)
}
