package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashwin-0055/flowsync/database"
)

// fakeLLM answers chat completions with reply and records the last request
func fakeLLM(t *testing.T, status int, reply string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&last))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"message":"` + reply + `"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func TestLLMClientComplete(t *testing.T) {
	srv, last := fakeLLM(t, http.StatusOK, "  all good \n")
	client := NewLLMClient("test-key", srv.URL+"/", "")

	reply, err := client.Complete(context.Background(), "be brief", "status?")
	require.NoError(t, err)
	assert.Equal(t, "all good", reply)

	assert.Equal(t, "sonar", last.Model)
	assert.Equal(t, 0.7, last.Temperature)
	assert.Equal(t, 1000, last.MaxTokens)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, last.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "status?"}, last.Messages[1])
}

func TestLLMClientSurfacesAPIErrors(t *testing.T) {
	srv, _ := fakeLLM(t, http.StatusUnauthorized, "Invalid API key")
	client := NewLLMClient("test-key", srv.URL, "")

	_, err := client.Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Equal(t, "language model API error: 401 - Invalid API key", err.Error())
}

func TestLLMClientRequiresKey(t *testing.T) {
	_, err := NewLLMClient(" ", "", "").Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrLLMNotConfigured)
}

func TestLLMClientRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := NewLLMClient("k", srv.URL, "").Complete(context.Background(), "s", "u")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response format")
}

func TestEstimateComplexity(t *testing.T) {
	for reply, want := range map[string]database.Priority{
		"High":              database.PriorityHigh,
		"Low.":              database.PriorityLow,
		"**Medium**":        database.PriorityMedium,
		"Probably moderate": database.PriorityMedium,
	} {
		srv, last := fakeLLM(t, http.StatusOK, reply)
		assistant := NewAssistant(NewLLMClient("test-key", srv.URL, ""))

		got, err := assistant.EstimateComplexity(context.Background(), "Migrate DB", "")
		require.NoError(t, err)
		assert.Equal(t, want, got, "reply %q", reply)
		assert.Equal(t, "Task: Migrate DB\n\nDescription: No additional details", last.Messages[1].Content)
	}

	_, err := NewAssistant(NewLLMClient("k", "", "")).EstimateComplexity(context.Background(), " ", "")
	assert.True(t, IsValidation(err))
}

func TestRefineTask(t *testing.T) {
	srv, last := fakeLLM(t, http.StatusOK, "1. Do it")
	assistant := NewAssistant(NewLLMClient("test-key", srv.URL, "custom-model"))

	plan, err := assistant.RefineTask(context.Background(), "Launch beta")
	require.NoError(t, err)
	assert.Equal(t, "1. Do it", plan)
	assert.Equal(t, "custom-model", last.Model)
	assert.Contains(t, last.Messages[0].Content, "3-5 concise, numbered steps")
	assert.Equal(t, "Task: Launch beta\n\nCreate a refined action plan for this task.", last.Messages[1].Content)

	_, err = assistant.RefineTask(context.Background(), "")
	assert.True(t, IsValidation(err))
}

func TestBoardSummary(t *testing.T) {
	yesterday := testNow.Add(-26 * time.Hour)
	lastWeek := testNow.Add(-7 * 24 * time.Hour)
	board := &database.Board{
		ID: "b1",
		Lists: []database.List{
			{ID: "todo", Title: "To Do", WIPLimit: intPtr(1), Index: 0},
			{ID: "done", Title: "Done", Index: 1},
		},
	}
	snap := NewBoardSnapshot(board, []database.Card{
		{ID: "a", ListID: "todo", Index: 0, Priority: database.PriorityHigh, DueDate: &yesterday},
		{ID: "b", ListID: "todo", Index: 1, Priority: database.PriorityLow},
		{ID: "c", ListID: "done", Index: 0, Priority: database.PriorityMedium, DueDate: &lastWeek},
	}, nil)

	summary := BoardSummary(snap, testNow)

	lines := strings.Split(summary, "\n")
	assert.Equal(t, "Board Status:", lines[0])
	assert.Equal(t, "To Do: 2 cards (WIP limit: 1 - VIOLATION!) [High: 1, Medium: 0, Low: 1] {overdue: 1, oldest due 1 day ago}", lines[1])
	assert.Equal(t, "Done: 1 cards [High: 0, Medium: 1, Low: 0]", lines[2])
	assert.True(t, strings.HasSuffix(summary, "Total cards: 3"))
}

func TestAnalyzeBoard(t *testing.T) {
	srv, last := fakeLLM(t, http.StatusOK, "Bottleneck in To Do.")
	assistant := NewAssistant(NewLLMClient("test-key", srv.URL, ""))
	assistant.now = func() time.Time { return testNow }

	snap := NewBoardSnapshot(&database.Board{Lists: database.DefaultLists()}, nil, nil)
	analysis, err := assistant.AnalyzeBoard(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "Bottleneck in To Do.", analysis)
	assert.Contains(t, last.Messages[0].Content, "single-paragraph status report")
	assert.Contains(t, last.Messages[1].Content, "In Progress: 0 cards (WIP limit: 3)")
}
