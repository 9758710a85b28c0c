package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/repository"
	"github.com/m-mizutani/burrow/pkg/usecase/agent"
	"github.com/m-mizutani/burrow/pkg/usecase/rag"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
)

const maxBodySize = 1 << 20

type chatRequest struct {
	Prompt string `json:"prompt"`
}

type agentRequest struct {
	Prompt         string `json:"prompt"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type agentResponse struct {
	ConversationID model.ConversationID `json:"conversation_id"`
	Reply          string               `json:"reply"`
}

type askRequest struct {
	Question string `json:"question"`
}

type sourceResponse struct {
	ID       model.ChunkID `json:"id"`
	Source   string        `json:"source"`
	Content  string        `json:"content"`
	Distance float64       `json:"distance"`
}

type askResponse struct {
	Answer  string            `json:"answer"`
	Sources []*sourceResponse `json:"sources"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat streams the reply as plain text, flushing each chunk
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx := r.Context()
	rc := http.NewResponseController(w)
	started := false

	err := s.agent.Reply(ctx, req.Prompt, func(delta string) error {
		if !started {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := w.Write([]byte(delta)); err != nil {
			return err
		}
		return rc.Flush()
	})

	switch {
	case err == nil && !started:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
	case err != nil && !started:
		logging.From(ctx).Error("failed to start chat stream", logging.ErrAttr(err))
		writeError(w, http.StatusBadGateway, "failed to get reply")
	case err != nil:
		// Headers are already sent
		logging.From(ctx).Warn("chat stream interrupted", logging.ErrAttr(err))
	}
}

// handleAgent runs one tool-calling turn
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, "agent is not configured")
		return
	}

	var req agentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	ctx := r.Context()
	logger := logging.From(ctx)

	var session *agent.Session
	if req.ConversationID == "" {
		session = s.agent.NewSession(ctx)
	} else {
		resumed, err := s.agent.Resume(ctx, model.ConversationID(req.ConversationID))
		if err != nil {
			if errors.Is(err, adapter.ErrObjectNotFound) || errors.Is(err, repository.ErrNotFound) {
				writeError(w, http.StatusNotFound, "conversation not found")
				return
			}
			logger.Error("failed to resume conversation", logging.ErrAttr(err))
			writeError(w, http.StatusInternalServerError, "failed to resume conversation")
			return
		}
		session = resumed
	}

	reply, err := session.Send(ctx, req.Prompt)
	if err != nil {
		logger.Error("agent turn failed", logging.ErrAttr(err))
		writeError(w, http.StatusBadGateway, "failed to get reply")
		return
	}

	writeJSON(w, http.StatusOK, &agentResponse{ConversationID: session.ID(), Reply: reply})
}

// handleAsk answers a question from the knowledge base
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.rag == nil {
		writeError(w, http.StatusServiceUnavailable, "knowledge base is not configured")
		return
	}

	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	answer, err := s.rag.Answer(r.Context(), req.Question)
	if err != nil {
		if errors.Is(err, rag.ErrNoContext) {
			writeError(w, http.StatusNotFound, "no relevant information found")
			return
		}
		logging.From(r.Context()).Error("failed to answer question", logging.ErrAttr(err))
		writeError(w, http.StatusBadGateway, "failed to answer question")
		return
	}

	resp := &askResponse{Answer: answer.Text, Sources: make([]*sourceResponse, len(answer.Sources))}
	for i, c := range answer.Sources {
		resp.Sources[i] = &sourceResponse{
			ID:       c.ID,
			Source:   c.Source,
			Content:  c.Content,
			Distance: c.Distance,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
