package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ashwin-0055/flowsync/database"
	"github.com/Ashwin-0055/flowsync/services"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// nextFrame returns the next message matching accept. Queued messages may
// share one WebSocket frame, separated by newlines.
func nextFrame(t *testing.T, conn *websocket.Conn, pending *[]frame, accept func(frame) bool) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		for len(*pending) > 0 {
			f := (*pending)[0]
			*pending = (*pending)[1:]
			if accept(f) {
				return f
			}
		}

		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		dec := json.NewDecoder(bytes.NewReader(raw))
		for {
			var f frame
			err := dec.Decode(&f)
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			*pending = append(*pending, f)
		}
	}
}

func snapshotWhere(t *testing.T, match func(services.BoardSnapshot) bool) func(frame) bool {
	return func(f frame) bool {
		if f.Type != services.MessageSnapshot {
			return false
		}
		var snap services.BoardSnapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		return match(snap)
	}
}

func order(cards []database.Card) []string {
	ids := make([]string, 0, len(cards))
	for _, c := range cards {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestLiveSessionMove(t *testing.T) {
	s := newTestServer(t)
	ada := s.signIn("ada@example.com")

	snap := data[services.BoardSnapshot](t, s.do("GET", "/api/board", ada, nil))
	boardURL := "/api/boards/" + snap.Board.ID
	todo := snap.Lists[0].ID
	first := data[database.Card](t, s.do("POST", boardURL+"/cards", ada, map[string]any{"title": "First"}))
	second := data[database.Card](t, s.do("POST", boardURL+"/cards", ada, map[string]any{"title": "Second"}))

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + boardURL + "/ws?token=" + url.QueryEscape(ada)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var pending []frame
	nextFrame(t, conn, &pending, snapshotWhere(t, func(snap services.BoardSnapshot) bool {
		return snap.Board != nil && len(snap.CardsInList(todo)) == 2
	}))

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	nextFrame(t, conn, &pending, func(f frame) bool { return f.Type == services.MessagePong })

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "move",
		"data": services.MoveIntent{CardID: second.ID, TargetListID: todo, Position: new(int)},
	}))
	nextFrame(t, conn, &pending, snapshotWhere(t, func(snap services.BoardSnapshot) bool {
		return snap.PendingSeq == 0 &&
			assert.ObjectsAreEqual([]string{second.ID, first.ID}, order(snap.CardsInList(todo)))
	}))

	cards := data[[]database.Card](t, s.do("GET", boardURL+"/cards", ada, nil))
	assert.Equal(t, []string{second.ID, first.ID}, order(cards))

	// unknown cards are refused with a notice
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "move",
		"data": services.MoveIntent{CardID: "missing", TargetListID: todo},
	}))
	notice := nextFrame(t, conn, &pending, func(f frame) bool { return f.Type == services.MessageNotice })
	assert.JSONEq(t, `{"level":"error","message":"Failed to move card"}`, string(notice.Data))
}

func TestLiveSessionRequiresMembership(t *testing.T) {
	s := newTestServer(t)
	ada := s.signIn("ada@example.com")
	grace := s.signIn("grace@example.com")
	snap := data[services.BoardSnapshot](t, s.do("GET", "/api/board", ada, nil))

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/boards/" + snap.Board.ID + "/ws?token=" + url.QueryEscape(grace)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestOriginAllowed(t *testing.T) {
	tests := []struct {
		allowed []string
		origin  string
		want    bool
	}{
		{[]string{"*"}, "https://evil.example", true},
		{[]string{"https://app.example"}, "https://app.example", true},
		{[]string{"https://app.example"}, "https://evil.example", false},
		{[]string{"https://app.example"}, "", true},
		{nil, "https://app.example", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(tt.allowed, tt.origin), "%v %q", tt.allowed, tt.origin)
	}
}
