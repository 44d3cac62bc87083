package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brensch/sidestacker/engine"
	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/brensch/sidestacker/viewer"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var xWins = [][]string{
	{"", "", "", "", "", "", ""},
	{"", "", "", "", "", "", ""},
	{"", "", "", "", "", "", ""},
	{"X", "X", "X", "", "", "", ""},
	{"", "", "", "", "", "", ""},
	{"", "", "", "", "", "", "O"},
	{"O", "", "", "", "", "", "O"},
}

func newTestServer(opts Options) *Server {
	e := engine.New(mcts.Config{C: 1.41, NumSearches: 800}, mcts.Config{C: 2, NumSearches: 100}, nil, 3)
	return New(e, opts)
}

func postMove(t *testing.T, h http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/move", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newTestServer(Options{}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok","model":false}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(Options{}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGameViewerRoutes(t *testing.T) {
	h := newTestServer(Options{}).Router()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	games := viewer.NewDBCache([]string{t.TempDir()}, time.Minute)
	if _, err := games.Get(); err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer games.Close()

	h = newTestServer(Options{Games: games}).Router()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/games", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"total":0,"games":[]}`, w.Body.String())
}

func TestMoveFindsWin(t *testing.T) {
	h := newTestServer(Options{}).Router()
	w := postMove(t, h, MoveRequest{Board: xWins, PlayerSymbol: "X", Difficulty: "medium"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, [2]int{3, 3}, resp.Move)
	require.Equal(t, "medium", resp.Difficulty)
	require.Equal(t, 800, resp.Simulations)
}

func TestMoveHardWithoutModel(t *testing.T) {
	h := newTestServer(Options{}).Router()
	w := postMove(t, h, MoveRequest{Board: xWins, PlayerSymbol: "X", Difficulty: "hard"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "medium", resp.Difficulty)
}

func TestMoveBadRequests(t *testing.T) {
	h := newTestServer(Options{}).Router()

	w := postMove(t, h, MoveRequest{Board: xWins[:3], PlayerSymbol: "X"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postMove(t, h, MoveRequest{Board: xWins, PlayerSymbol: "X", Difficulty: "nightmare"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = postMove(t, h, map[string]any{"board": xWins})
	require.Equal(t, http.StatusBadRequest, w.Code)

	third := make([][]string, len(xWins))
	for i := range xWins {
		third[i] = append([]string(nil), xWins[i]...)
	}
	third[0][0] = "Z"
	w = postMove(t, h, MoveRequest{Board: third, PlayerSymbol: "X"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMoveFullBoard(t *testing.T) {
	full := make([][]string, 7)
	for r := range full {
		full[r] = make([]string, 7)
		for c := range full[r] {
			if ((c+2*r)/2)%2 == 0 {
				full[r][c] = "X"
			} else {
				full[r][c] = "O"
			}
		}
	}
	h := newTestServer(Options{}).Router()
	w := postMove(t, h, MoveRequest{Board: full, PlayerSymbol: "X"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "no legal moves")
}

func TestMoveFinishedGame(t *testing.T) {
	won := make([][]string, len(xWins))
	for i := range xWins {
		won[i] = append([]string(nil), xWins[i]...)
	}
	won[3][3] = "X"
	h := newTestServer(Options{}).Router()
	w := postMove(t, h, MoveRequest{Board: won, PlayerSymbol: "O"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Contains(t, w.Body.String(), "game already won")
}

func TestMoveTrimsPlayerSymbol(t *testing.T) {
	h := newTestServer(Options{}).Router()
	w := postMove(t, h, MoveRequest{Board: xWins, PlayerSymbol: " X ", Difficulty: "medium"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, [2]int{3, 3}, resp.Move)
}

func TestMoveRateLimited(t *testing.T) {
	h := newTestServer(Options{RateLimit: 0.001, Burst: 1}).Router()

	w := postMove(t, h, MoveRequest{Board: xWins, PlayerSymbol: "X", Difficulty: "easy"})
	require.Equal(t, http.StatusOK, w.Code)

	w = postMove(t, h, MoveRequest{Board: xWins, PlayerSymbol: "X", Difficulty: "easy"})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestWebSocketSession(t *testing.T) {
	srv := httptest.NewServer(newTestServer(Options{}).Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var session string
	for i := 0; i < 2; i++ {
		require.NoError(t, conn.WriteJSON(MoveRequest{Board: xWins, PlayerSymbol: "X", Difficulty: "medium"}))
		var resp MoveResponse
		require.NoError(t, conn.ReadJSON(&resp))
		require.Empty(t, resp.Error)
		require.Equal(t, [2]int{3, 3}, resp.Move)
		require.NotEmpty(t, resp.SessionID)
		if session == "" {
			session = resp.SessionID
		}
		require.Equal(t, session, resp.SessionID)
	}

	require.NoError(t, conn.WriteJSON(MoveRequest{Board: xWins[:2], PlayerSymbol: "X"}))
	var resp MoveResponse
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotEmpty(t, resp.Error)
}
