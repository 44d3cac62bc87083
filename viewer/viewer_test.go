package viewer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func gameRows(id string, iteration int32, lastValue float32, plies int) []store.SampleRow {
	rows := make([]store.SampleRow, 0, plies)
	var b game.Board
	mover := game.PlayerA
	for i := 0; i < plies; i++ {
		b.Set(game.ActionAt(i, 0), 1)
		value := lastValue
		if (plies-1-i)%2 == 1 {
			value = -lastValue
		}
		rows = append(rows, store.SampleRow{
			GameID:    id,
			Iteration: iteration,
			Ply:       int32(i),
			Mover:     int32(mover),
			Board:     store.PackCells(b.Cells()),
			Encoded:   make([]float32, 3*game.ActionSize),
			Policy:    make([]float32, game.ActionSize),
			Action:    int32(game.ActionAt(i, 0)),
			Value:     value,
			Source:    "selfplay",
		})
		mover = mover.Opponent()
	}
	return rows
}

func newTestCache(t *testing.T) *DBCache {
	t.Helper()
	dir := t.TempDir()
	_, err := store.WriteSamplesParquetAtomic(filepath.Join(dir, "iter0"), gameRows("g-win", 0, 1, 3))
	require.NoError(t, err)
	_, err = store.WriteSamplesParquetAtomic(filepath.Join(dir, "iter1"), gameRows("g-draw", 1, 0, 2))
	require.NoError(t, err)

	cache := NewDBCache([]string{dir}, time.Minute)
	if _, err := cache.Get(); err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestGamesIndex(t *testing.T) {
	cache := newTestCache(t)

	games, err := cache.GamesIndex(context.Background())
	require.NoError(t, err)
	require.Len(t, games, 2)

	// Newest iteration first.
	require.Equal(t, "g-draw", games[0].GameID)
	require.Equal(t, "none", games[0].Winner)
	require.EqualValues(t, 2, games[0].Plies)

	require.Equal(t, "g-win", games[1].GameID)
	require.Equal(t, "A", games[1].Winner)
	require.EqualValues(t, 3, games[1].Plies)
	require.Equal(t, "selfplay", games[1].Source)
}

func TestGameReplay(t *testing.T) {
	cache := newTestCache(t)

	resp, err := cache.Game(context.Background(), "g-win")
	require.NoError(t, err)
	require.Len(t, resp.Plies, 3)

	last := resp.Plies[2]
	require.Equal(t, "A", last.Mover)
	require.Equal(t, [2]int{2, 0}, last.Move)
	require.Len(t, last.Board, game.Size)
	require.Equal(t, "x......", last.Board[0])
	require.Len(t, last.Policy, game.ActionSize)

	// Player B's boards are stored from B's side, so its own stones render as o.
	require.Equal(t, "B", resp.Plies[1].Mover)
	require.Equal(t, "o......", resp.Plies[1].Board[0])

	_, err = cache.Game(context.Background(), "missing")
	require.ErrorIs(t, err, ErrGameNotFound)
}

func TestStats(t *testing.T) {
	cache := newTestCache(t)

	st, err := cache.Stats(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, st.Shards)
	require.EqualValues(t, 5, st.Samples)
	require.EqualValues(t, 2, st.Games)
	require.Len(t, st.Iterations, 2)
	require.EqualValues(t, 1, st.Iterations[0].WinsA)
	require.EqualValues(t, 1, st.Iterations[1].Draws)
	require.InDelta(t, 2.0, st.Iterations[1].AvgPlies, 1e-9)
}

func TestRootsUnderTmpDirectories(t *testing.T) {
	// Both roots have a tmp component in their absolute path. Only tmp
	// directories below a root hold in-flight shards.
	nested := filepath.Join(t.TempDir(), "tmp", "data")
	named := filepath.Join(t.TempDir(), "tmp")

	_, err := store.WriteSamplesParquetAtomic(filepath.Join(nested, "iter0"), gameRows("g-nested", 0, 1, 3))
	require.NoError(t, err)
	_, err = store.WriteSamplesParquetAtomic(named, gameRows("g-named", 0, -1, 4))
	require.NoError(t, err)
	_, err = store.WriteSamplesParquetAtomic(filepath.Join(nested, "iter0", "tmp"), gameRows("g-partial", 0, 1, 2))
	require.NoError(t, err)

	files, err := listShards([]string{nested, named, filepath.Join(t.TempDir(), "missing")})
	require.NoError(t, err)
	require.Len(t, files, 2)

	cache := NewDBCache([]string{nested, named}, time.Minute)
	if _, err := cache.Get(); err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer cache.Close()

	games, err := cache.GamesIndex(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(games))
	for _, g := range games {
		ids = append(ids, g.GameID)
	}
	require.ElementsMatch(t, []string{"g-nested", "g-named"}, ids)
}

func TestEmptyRoots(t *testing.T) {
	cache := NewDBCache([]string{t.TempDir()}, time.Minute)
	if _, err := cache.Get(); err != nil {
		t.Skipf("duckdb unavailable: %v", err)
	}
	defer cache.Close()

	games, err := cache.GamesIndex(context.Background())
	require.NoError(t, err)
	require.Empty(t, games)
}

func TestHandlers(t *testing.T) {
	cache := newTestCache(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	Register(r.Group("/api"), cache)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/games?limit=1&offset=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var games GamesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &games))
	require.EqualValues(t, 2, games.Total)
	require.Len(t, games.Games, 1)
	require.Equal(t, "g-win", games.Games[0].GameID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/games/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestWinnerOf(t *testing.T) {
	require.Equal(t, game.PlayerB, winnerOf(game.PlayerB, 1))
	require.Equal(t, game.PlayerA, winnerOf(game.PlayerB, -1))
	require.Equal(t, game.Player(0), winnerOf(game.PlayerA, 0))
}
