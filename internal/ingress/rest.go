package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/apierr"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/greeting"
	"github.com/susanthp18/hlas-insurance-orchestrator/internal/raclock"
)

// chatRequest mirrors main.py's ChatInput Pydantic model.
type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// chatResponse mirrors main.py's returned {"response", "sources"} shape.
type chatResponse struct {
	Response string `json:"response"`
	Sources  string `json:"sources"`
}

// handleChat ports main.py's chat handler: "hi" (trimmed, case-insensitive)
// resets the session and replies with a time-based greeting without ever
// running the turn router; everything else loads the session, runs one
// turn under the per-session lock, truncates the stored assistant reply
// to the configured history limit, and persists.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message) == "" {
		respondError(w, http.StatusBadRequest, errors.New("session_id and message are required"))
		return
	}

	if strings.ToLower(strings.TrimSpace(req.Message)) == "hi" {
		if _, err := s.deps.Store.Reset(ctx, req.SessionID); err != nil {
			respondError(w, statusFromError(apierr.New(apierr.Transient, "sessionstore.Reset", err)), err)
			return
		}
		respondJSON(w, http.StatusOK, chatResponse{
			Response: greeting.Render(req.SessionID, s.now(), s.deps.Location),
			Sources:  "",
		})
		return
	}

	reply, err := s.runTurn(ctx, req.SessionID, req.Message)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	respondJSON(w, http.StatusOK, chatResponse{Response: reply, Sources: ""})
}

// runTurn acquires the per-session lock, loads the session, runs one
// router turn, persists the truncated-for-history reply and the mutated
// session, and returns the full (untruncated) reply text.
func (s *Server) runTurn(ctx context.Context, sessionID, message string) (string, error) {
	handle, err := s.deps.Lock.Acquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, raclock.ErrLockTimeout) {
			if s.deps.Metrics != nil {
				s.deps.Metrics.RedisLockTimeouts.WithLabelValues("rest").Inc()
			}
			return "", apierr.New(apierr.ContentionTimeout, "raclock.Acquire", err)
		}
		return "", apierr.New(apierr.Transient, "raclock.Acquire", err)
	}
	defer func() { _ = s.deps.Lock.Release(ctx, handle) }()

	sess, err := s.deps.Store.Get(ctx, sessionID)
	if err != nil {
		return "", apierr.New(apierr.Transient, "sessionstore.Get", err)
	}

	reply, err := s.deps.Router.Handle(ctx, &sess, message, s.now())
	if err != nil {
		return "", apierr.New(apierr.Transient, "router.Handle", err)
	}

	historyReply := reply
	if max := s.deps.Config.HistoryTruncateChars; max > 0 && len(historyReply) > max {
		historyReply = historyReply[:max]
	}
	if err := s.deps.Store.AppendHistory(ctx, sessionID, message, historyReply); err != nil {
		return "", apierr.New(apierr.Transient, "sessionstore.AppendHistory", err)
	}
	if err := s.deps.Store.Save(ctx, sess); err != nil {
		return "", apierr.New(apierr.Transient, "sessionstore.Save", err)
	}

	return reply, nil
}
