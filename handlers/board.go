package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/services"
)

// BoardHandler serves board, list, card, label, comment and member endpoints
type BoardHandler struct {
	boards     *services.BoardService
	dispatcher *services.Dispatcher
	assistant  *services.Assistant
}

func NewBoardHandler(boards *services.BoardService, dispatcher *services.Dispatcher, assistant *services.Assistant) *BoardHandler {
	return &BoardHandler{
		boards:     boards,
		dispatcher: dispatcher,
		assistant:  assistant,
	}
}

// MyBoard returns the caller's board, creating or migrating one on first use
func (h *BoardHandler) MyBoard(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFrom(r)
	if !ok {
		http.Error(w, "user not found", http.StatusUnauthorized)
		return
	}

	board, err := h.boards.LoadBoardForUser(r.Context(), identity.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, r, board.ID)
}

func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	h.writeSnapshot(w, r, boardFrom(r).ID)
}

func (h *BoardHandler) writeSnapshot(w http.ResponseWriter, r *http.Request, boardID string) {
	snap, err := h.boards.Snapshot(r.Context(), boardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, services.WithLiveLabels(snap))
}

func (h *BoardHandler) RenameBoard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.boards.RenameBoard(r.Context(), boardFrom(r).ID, req.Title); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]string{"title": strings.TrimSpace(req.Title)})
}

type listRequest struct {
	Title    string `json:"title"`
	WIPLimit *int   `json:"wipLimit"`
}

func (h *BoardHandler) AddList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !decodeBody(w, r, &req) {
		return
	}
	list, err := h.boards.AddList(r.Context(), boardFrom(r).ID, req.Title, req.WIPLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, list)
}

func (h *BoardHandler) UpdateList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !decodeBody(w, r, &req) {
		return
	}
	list, err := h.boards.UpdateList(r.Context(), boardFrom(r).ID, mux.Vars(r)["listId"], req.Title, req.WIPLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, list)
}

func (h *BoardHandler) DeleteList(w http.ResponseWriter, r *http.Request) {
	if err := h.boards.DeleteList(r.Context(), boardFrom(r).ID, mux.Vars(r)["listId"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *BoardHandler) MoveList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position int `json:"position"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	lists, err := h.boards.MoveList(r.Context(), boardFrom(r).ID, mux.Vars(r)["listId"], req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, lists)
}

// ListCards returns the board's cards narrowed by the search, priority,
// list and label query parameters. The last three may repeat.
func (h *BoardHandler) ListCards(w http.ResponseWriter, r *http.Request) {
	snap, err := h.boards.Snapshot(r.Context(), boardFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	snap = services.WithLiveLabels(snap)

	q := r.URL.Query()
	filter := services.CardFilter{
		Search:   q.Get("search"),
		ListIDs:  q["list"],
		LabelIDs: q["label"],
	}
	for _, p := range q["priority"] {
		priority, ok := database.ParsePriority(p)
		if !ok {
			http.Error(w, "priority: must be Low, Medium or High", http.StatusBadRequest)
			return
		}
		filter.Priorities = append(filter.Priorities, priority)
	}

	writeSuccess(w, services.FilterCards(snap.Cards, filter))
}

func (h *BoardHandler) CreateCard(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	var in services.CardInput
	if !decodeBody(w, r, &in) {
		return
	}
	card, err := h.boards.CreateCard(r.Context(), boardFrom(r).ID, identity, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, card)
}

func (h *BoardHandler) UpdateCard(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	var in services.CardInput
	if !decodeBody(w, r, &in) {
		return
	}
	card, err := h.boards.UpdateCard(r.Context(), boardFrom(r).ID, identity, mux.Vars(r)["cardId"], in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, card)
}

func (h *BoardHandler) DeleteCard(w http.ResponseWriter, r *http.Request) {
	if err := h.boards.DeleteCard(r.Context(), boardFrom(r).ID, mux.Vars(r)["cardId"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// MoveCard applies a drag-and-drop move against the current board state
func (h *BoardHandler) MoveCard(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	var intent services.MoveIntent
	if !decodeBody(w, r, &intent) {
		return
	}

	snap, err := h.boards.Snapshot(r.Context(), boardFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	plan, err := h.dispatcher.MoveCard(r.Context(), identity.ID, snap, intent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, plan)
}

// RescheduleCard moves a card to another calendar day
func (h *BoardHandler) RescheduleCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DueDate time.Time `json:"dueDate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DueDate.IsZero() {
		http.Error(w, "dueDate: is required", http.StatusBadRequest)
		return
	}
	if err := h.boards.RescheduleCard(r.Context(), boardFrom(r).ID, mux.Vars(r)["cardId"], req.DueDate); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, map[string]time.Time{"dueDate": req.DueDate})
}

// Calendar groups cards with due dates into the grid of one month. year
// and month default to the current ones.
func (h *BoardHandler) Calendar(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	year, month := now.Year(), now.Month()

	q := r.URL.Query()
	if v := q.Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "year: must be a number", http.StatusBadRequest)
			return
		}
		year = y
	}
	if v := q.Get("month"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			http.Error(w, "month: must be between 1 and 12", http.StatusBadRequest)
			return
		}
		month = time.Month(m)
	}

	snap, err := h.boards.Snapshot(r.Context(), boardFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, services.CalendarMonth(snap.Cards, year, month, time.UTC))
}

func (h *BoardHandler) ListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.boards.Comments(r.Context(), boardFrom(r).ID, mux.Vars(r)["cardId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, comments)
}

func (h *BoardHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	var req struct {
		Text string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	comment, err := h.boards.AddComment(r.Context(), boardFrom(r).ID, mux.Vars(r)["cardId"], identity, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, comment)
}

func (h *BoardHandler) ListLabels(w http.ResponseWriter, r *http.Request) {
	labels, err := h.boards.Labels(r.Context(), boardFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, labels)
}

func (h *BoardHandler) CreateLabel(w http.ResponseWriter, r *http.Request) {
	var label database.Label
	if !decodeBody(w, r, &label) {
		return
	}
	label, err := h.boards.CreateLabel(r.Context(), boardFrom(r).ID, label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, label)
}

func (h *BoardHandler) UpdateLabel(w http.ResponseWriter, r *http.Request) {
	var label database.Label
	if !decodeBody(w, r, &label) {
		return
	}
	label, err := h.boards.UpdateLabel(r.Context(), boardFrom(r).ID, mux.Vars(r)["labelId"], label)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, label)
}

func (h *BoardHandler) DeleteLabel(w http.ResponseWriter, r *http.Request) {
	if err := h.boards.DeleteLabel(r.Context(), boardFrom(r).ID, mux.Vars(r)["labelId"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

func (h *BoardHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.boards.Members(r.Context(), boardFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, members)
}

func (h *BoardHandler) InviteMember(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	user, err := h.boards.InviteMember(r.Context(), boardFrom(r).ID, identity, req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, user)
}

func (h *BoardHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r)
	if err := h.boards.RemoveMember(r.Context(), boardFrom(r).ID, identity, mux.Vars(r)["userId"]); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, nil)
}

// AnalyzeBoard asks the language model for a status report on the board
func (h *BoardHandler) AnalyzeBoard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.boards.Snapshot(r.Context(), boardFrom(r).ID)
	if err != nil {
		writeError(w, err)
		return
	}
	analysis, err := h.assistant.AnalyzeBoard(r.Context(), snap)
	if err != nil {
		writeAssistantError(w, "Failed to analyze board", err)
		return
	}
	writeSuccess(w, map[string]string{"analysis": analysis})
}

func (h *BoardHandler) RefineTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	plan, err := h.assistant.RefineTask(r.Context(), req.Title)
	if err != nil {
		writeAssistantError(w, "Failed to refine task", err)
		return
	}
	writeSuccess(w, map[string]string{"description": plan})
}

func (h *BoardHandler) EstimateComplexity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	priority, err := h.assistant.EstimateComplexity(r.Context(), req.Title, req.Description)
	if err != nil {
		writeAssistantError(w, "Failed to estimate complexity", err)
		return
	}
	writeSuccess(w, map[string]database.Priority{"priority": priority})
}

// writeAssistantError passes language model failures through verbatim
func writeAssistantError(w http.ResponseWriter, prefix string, err error) {
	if services.IsValidation(err) {
		writeError(w, err)
		return
	}
	http.Error(w, prefix+": "+err.Error(), http.StatusBadGateway)
}
