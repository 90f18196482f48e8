package openai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/susanthp18/hlas-insurance-orchestrator/internal/llm"
)

func TestChatReturnsFirstChoiceContent(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": "hello there"},
				},
			},
		})
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "gpt-4o-mini", srv.Client())
	reply, err := c.Chat(t.Context(), []llm.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	}, "")

	require.NoError(t, err)
	require.Equal(t, "hello there", reply)
	require.Equal(t, "gpt-4o-mini", gotBody["model"])
}

func TestChatReturnsEmptyStringForNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-1", "object": "chat.completion", "model": "gpt-4o-mini", "choices": []map[string]any{},
		})
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "gpt-4o-mini", srv.Client())
	reply, err := c.Chat(t.Context(), []llm.Message{{Role: "user", Content: "hi"}}, "")

	require.NoError(t, err)
	require.Equal(t, "", reply)
}

func TestChatUsesExplicitModelOverDefault(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "x", "object": "chat.completion", "model": gotModel,
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := New("test-key", srv.URL, "gpt-4o-mini", srv.Client())
	_, err := c.Chat(t.Context(), []llm.Message{{Role: "user", Content: "hi"}}, "gpt-4o")

	require.NoError(t, err)
	require.Equal(t, "gpt-4o", gotModel)
}
