package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/orgconfig"
	"github.com/lamb-project/lamb-kb-server/internal/rag"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
	"github.com/rs/zerolog/log"
)

// assistantModelPrefix names an assistant as an OpenAI-compatible model id.
const assistantModelPrefix = "lamb_assistant."

// CompletionHandlers serves the Completion API: model listing, the
// chat-completions proxy, and the administrative pipeline reload.
type CompletionHandlers struct {
	directory    orgconfig.Directory
	orchestrator *rag.Orchestrator
	reload       func()
}

func NewCompletionHandlers(directory orgconfig.Directory, orchestrator *rag.Orchestrator, reload func()) *CompletionHandlers {
	return &CompletionHandlers{directory: directory, orchestrator: orchestrator, reload: reload}
}

type modelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	Created int64  `json:"created"`
}

// Models serves GET /v1/models and GET /models: every assistant the
// directory knows about, listed as an OpenAI-compatible model.
func (h *CompletionHandlers) Models(w http.ResponseWriter, r *http.Request) {
	assistants, err := h.directory.ListAssistants(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	items := make([]modelInfo, 0, len(assistants))
	for _, a := range assistants {
		items = append(items, modelInfo{
			ID:      assistantModelPrefix + a.ID,
			Object:  "model",
			OwnedBy: a.Owner,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "data": items})
}

// chatCompletionRequest accepts the three accepted prompt-input shapes:
// messages, prompt, or params.prompt.
type chatCompletionRequest struct {
	Model    string                 `json:"model"`
	Messages []models.ChatMessage   `json:"messages"`
	Prompt   string                 `json:"prompt"`
	Params   map[string]interface{} `json:"params"`
	Stream   bool                   `json:"stream"`
}

func (req chatCompletionRequest) resolveMessages() []models.ChatMessage {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	if req.Prompt != "" {
		return []models.ChatMessage{{Role: "user", Content: req.Prompt}}
	}
	if req.Params != nil {
		if p, ok := req.Params["prompt"].(string); ok && p != "" {
			return []models.ChatMessage{{Role: "user", Content: p}}
		}
	}
	return nil
}

func assistantIDFromModel(model string) (string, error) {
	if !strings.HasPrefix(model, assistantModelPrefix) {
		return "", apierr.BadInput("model %q is not an assistant model (expected %q prefix)", model, assistantModelPrefix)
	}
	return strings.TrimPrefix(model, assistantModelPrefix), nil
}

// ChatCompletions serves POST /v1/chat/completions and /chat/completions.
// Streaming responses are emitted as text/event-stream frames
// terminated by a single "data: [DONE]" sentinel in every exit path.
func (h *CompletionHandlers) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	assistantID, err := assistantIDFromModel(req.Model)
	if err != nil {
		respondError(w, err)
		return
	}
	messages := req.resolveMessages()
	if len(messages) == 0 {
		respondError(w, apierr.BadInput("messages, prompt, or params.prompt is required"))
		return
	}

	outcome, streamOutcome, err := h.orchestrator.Run(r.Context(), rag.Request{
		AssistantID: assistantID,
		Messages:    messages,
		Stream:      req.Stream,
		Body:        req.Params,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if req.Stream {
		h.streamChunks(w, r, streamOutcome)
		return
	}

	resp := outcome.Response
	resp.ID = fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	if resp.Created == 0 {
		resp.Created = time.Now().Unix()
	}
	if len(outcome.Failures) > 0 {
		log.Warn().Int("failed_collections", len(outcome.Failures)).Msg("rag fan-out had partial failures")
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *CompletionHandlers) streamChunks(w http.ResponseWriter, r *http.Request, outcome *rag.StreamOutcome) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, apierr.ConfigError("streaming unsupported by response writer"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		select {
		case <-r.Context().Done():
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		case chunk, ok := <-outcome.Chunks:
			if !ok {
				fmt.Fprint(w, "data: [DONE]\n\n")
				flusher.Flush()
				return
			}
			raw, err := json.Marshal(chunk)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", raw)
			flusher.Flush()
		}
	}
}

// PipelinesReload serves POST /v1/pipelines/reload: it invokes the reload
// callback, which the server wires to clearing the organization-config
// resolver's cache. The process-wide provider defaults record is not re-read
// from the environment; it keeps the values loaded at startup.
func (h *CompletionHandlers) PipelinesReload(w http.ResponseWriter, r *http.Request) {
	if h.reload != nil {
		h.reload()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "timestamp": strconv.FormatInt(time.Now().Unix(), 10)})
}
