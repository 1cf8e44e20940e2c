package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Ashwin-0055/flowsync/database"
)

const (
	defaultLLMBaseURL = "https://api.perplexity.ai"
	defaultLLMModel   = "sonar"
	llmTemperature    = 0.7
	llmMaxTokens      = 1000
)

var ErrLLMNotConfigured = errors.New("language model API key not configured; set LLM_API_KEY")

// LLMClient talks to an OpenAI-compatible chat completions endpoint
type LLMClient struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewLLMClient creates a client. Empty baseURL and model fall back to the
// hosted defaults.
func NewLLMClient(apiKey, baseURL, model string) *LLMClient {
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}
	if model == "" {
		model = defaultLLMModel
	}
	return &LLMClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Complete sends one system instruction and one user prompt and returns
// the trimmed reply
func (c *LLMClient) Complete(ctx context.Context, systemInstruction, userPrompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", ErrLLMNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: userPrompt},
		},
		Temperature: llmTemperature,
		MaxTokens:   llmMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("language model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatError
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		return "", fmt.Errorf("language model API error: %d - %s", resp.StatusCode, msg)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return "", errors.New("invalid response format from language model API")
	}
	return strings.TrimSpace(chat.Choices[0].Message.Content), nil
}

const (
	analyzeInstruction = "Analyze the current Kanban board status and provide a concise, single-paragraph status report " +
		"focusing on project risk, bottlenecks, and the highest priority next step. " +
		"Be specific and actionable."

	refineInstruction = "Act as an expert project manager. Create a detailed, actionable plan for the given task. " +
		"Provide 3-5 concise, numbered steps that break down the task into clear action items. " +
		"Keep each step brief and specific."

	estimateInstruction = "Analyze the task complexity and respond with ONLY one word: Low, Medium, or High. " +
		"Base your assessment on the scope, technical difficulty, and expected time investment."
)

// Assistant builds prompts from board state and interprets replies
type Assistant struct {
	llm *LLMClient
	now func() time.Time
}

func NewAssistant(llm *LLMClient) *Assistant {
	return &Assistant{llm: llm, now: time.Now}
}

// AnalyzeBoard asks for a status report on the flow of the whole board
func (a *Assistant) AnalyzeBoard(ctx context.Context, snap BoardSnapshot) (string, error) {
	return a.llm.Complete(ctx, analyzeInstruction, BoardSummary(snap, a.now()))
}

// RefineTask asks for a numbered action plan for a task title
func (a *Assistant) RefineTask(ctx context.Context, title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", invalid("title", "please enter a task title first")
	}
	return a.llm.Complete(ctx, refineInstruction,
		fmt.Sprintf("Task: %s\n\nCreate a refined action plan for this task.", title))
}

// EstimateComplexity maps the model's answer onto a priority. Anything
// other than Low, Medium or High counts as Medium.
func (a *Assistant) EstimateComplexity(ctx context.Context, title, description string) (database.Priority, error) {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(description) == "" {
		return "", invalid("title", "please add a task title or description first")
	}
	if description == "" {
		description = "No additional details"
	}

	reply, err := a.llm.Complete(ctx, estimateInstruction,
		fmt.Sprintf("Task: %s\n\nDescription: %s", title, description))
	if err != nil {
		return "", err
	}
	return parseComplexity(reply), nil
}

var nonLetters = regexp.MustCompile(`[^a-zA-Z]`)

func parseComplexity(reply string) database.Priority {
	switch p := database.Priority(nonLetters.ReplaceAllString(reply, "")); p {
	case database.PriorityLow, database.PriorityMedium, database.PriorityHigh:
		return p
	}
	return database.PriorityMedium
}

// BoardSummary renders the per-list counts, WIP violations, priority mix
// and overdue cards that the analysis prompt is built from
func BoardSummary(snap BoardSnapshot, now time.Time) string {
	var b strings.Builder
	b.WriteString("Board Status:\n")

	for _, list := range snap.Lists {
		cards := snap.CardsInList(list.ID)
		fmt.Fprintf(&b, "%s: %d cards", list.Title, len(cards))
		if list.WIPLimit != nil {
			fmt.Fprintf(&b, " (WIP limit: %d", *list.WIPLimit)
			if len(cards) > *list.WIPLimit {
				b.WriteString(" - VIOLATION!")
			}
			b.WriteString(")")
		}

		counts := map[database.Priority]int{}
		var overdue []database.Card
		for _, c := range cards {
			counts[c.Priority]++
			if c.DueDate != nil && c.DueDate.Before(now) && !list.IsDone() {
				overdue = append(overdue, c)
			}
		}
		fmt.Fprintf(&b, " [High: %d, Medium: %d, Low: %d]",
			counts[database.PriorityHigh], counts[database.PriorityMedium], counts[database.PriorityLow])

		if len(overdue) > 0 {
			oldest := *overdue[0].DueDate
			for _, c := range overdue[1:] {
				if c.DueDate.Before(oldest) {
					oldest = *c.DueDate
				}
			}
			fmt.Fprintf(&b, " {overdue: %d, oldest due %s}", len(overdue), humanize.RelTime(oldest, now, "ago", "from now"))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nTotal cards: %d", len(snap.Cards))
	return b.String()
}
