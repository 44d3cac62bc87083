// Package viewer queries self-play sample shards with DuckDB and serves
// game listings, per-game replays and per-iteration stats.
package viewer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brensch/sidestacker/game"
	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog/log"
)

// ErrGameNotFound is returned when no samples carry the requested game ID.
var ErrGameNotFound = errors.New("game not found")

// DBCache maintains a DuckDB connection over the shard directories and
// reopens it once refreshRate has passed so new shards become visible.
type DBCache struct {
	roots       []string
	refreshRate time.Duration

	mu          sync.RWMutex
	db          *sql.DB
	lastRefresh time.Time

	// Rebuilt only when the connection is reopened.
	gamesIndex []GameSummary
}

func NewDBCache(roots []string, refreshRate time.Duration) *DBCache {
	return &DBCache{
		roots:       roots,
		refreshRate: refreshRate,
	}
}

// Get returns the cached DB connection, reopening it if stale.
func (c *DBCache) Get() (*sql.DB, error) {
	c.mu.RLock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		db := c.db
		c.mu.RUnlock()
		return db, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil && time.Since(c.lastRefresh) < c.refreshRate {
		return c.db, nil
	}
	return c.refreshLocked()
}

// Refresh reopens the connection now.
func (c *DBCache) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.refreshLocked()
	return err
}

func (c *DBCache) refreshLocked() (*sql.DB, error) {
	start := time.Now()
	newDB, err := openSamplesDB(c.roots)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		_ = c.db.Close()
	}
	c.db = newDB
	c.lastRefresh = time.Now()
	c.gamesIndex = nil

	log.Debug().Dur("took", time.Since(start)).Strs("roots", c.roots).Msg("viewer db refreshed")
	return c.db, nil
}

// GamesIndex returns every game, newest iteration first.
func (c *DBCache) GamesIndex(ctx context.Context) ([]GameSummary, error) {
	db, err := c.Get()
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	if c.gamesIndex != nil && c.db == db {
		idx := c.gamesIndex
		c.mu.RUnlock()
		return idx, nil
	}
	c.mu.RUnlock()

	start := time.Now()
	games, err := queryAllGames(ctx, db, c.roots)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.db == db {
		c.gamesIndex = games
	}
	c.mu.Unlock()
	log.Debug().Int("games", len(games)).Dur("took", time.Since(start)).Msg("games index rebuilt")
	return games, nil
}

// Game returns the summary and every recorded ply of one game.
func (c *DBCache) Game(ctx context.Context, gameID string) (GameResponse, error) {
	games, err := c.GamesIndex(ctx)
	if err != nil {
		return GameResponse{}, err
	}
	var resp GameResponse
	found := false
	for _, g := range games {
		if g.GameID == gameID {
			resp.Game = g
			found = true
			break
		}
	}
	if !found {
		return GameResponse{}, ErrGameNotFound
	}

	db, err := c.Get()
	if err != nil {
		return GameResponse{}, err
	}
	resp.Plies, err = queryPlies(ctx, db, gameID)
	if err != nil {
		return GameResponse{}, err
	}
	return resp, nil
}

// Stats aggregates shard, sample and outcome counts per iteration.
func (c *DBCache) Stats(ctx context.Context) (StatsResponse, error) {
	db, err := c.Get()
	if err != nil {
		return StatsResponse{}, err
	}
	var resp StatsResponse
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT filename), COUNT(*), COUNT(DISTINCT game_id) FROM samples`,
	).Scan(&resp.Shards, &resp.Samples, &resp.Games); err != nil {
		return StatsResponse{}, err
	}

	games, err := c.GamesIndex(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	resp.Iterations = aggregateIterations(games)
	return resp, nil
}

func (c *DBCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.gamesIndex = nil
	return err
}

// openSamplesDB creates an in-memory DuckDB with a samples view over every
// finished shard under roots. Shards are listed up front so in-flight files
// under tmp/ directories never reach read_parquet, wherever the roots live.
func openSamplesDB(roots []string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, err
	}
	_, _ = db.Exec("PRAGMA threads=4")

	files, err := listShards(roots)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	sqlText := `CREATE OR REPLACE VIEW samples AS
		SELECT * FROM (
			SELECT
				NULL::VARCHAR AS game_id,
				NULL::INTEGER AS iteration,
				NULL::INTEGER AS ply,
				NULL::INTEGER AS mover,
				NULL::BLOB AS board,
				NULL::REAL[] AS policy,
				NULL::INTEGER AS action,
				NULL::REAL AS value,
				NULL::VARCHAR AS source,
				NULL::VARCHAR AS model_path,
				NULL::VARCHAR AS filename
		) WHERE 1=0`
	if len(files) > 0 {
		quoted := make([]string, len(files))
		for i, f := range files {
			quoted[i] = "'" + escapeSQLString(f) + "'"
		}
		// union_by_name tolerates shards written without the optional columns.
		sqlText = `CREATE OR REPLACE VIEW samples AS
			SELECT * FROM read_parquet([` + strings.Join(quoted, ",") + `], filename=true, union_by_name=true)`
	}
	if _, err := db.Exec(sqlText); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// listShards walks every root for finished .parquet files, skipping tmp/
// directories below the root. A missing root contributes nothing.
func listShards(roots []string) ([]string, error) {
	var files []string
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		root = filepath.Clean(root)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && errors.Is(err, fs.ErrNotExist) {
					return fs.SkipAll
				}
				return err
			}
			if d.IsDir() {
				if path != root && d.Name() == "tmp" {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(d.Name(), ".parquet") {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("list shards under %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// queryAllGames builds game summaries in one pass. The final ply's mover
// and value decide the winner: +1 means the mover won, 0 a draw.
func queryAllGames(ctx context.Context, db *sql.DB, roots []string) ([]GameSummary, error) {
	query := `WITH game_stats AS (
		SELECT
			game_id,
			MIN(iteration)::INTEGER AS iteration,
			COUNT(*)::INTEGER AS plies,
			MIN(source)::VARCHAR AS source,
			COALESCE(MIN(model_path), '')::VARCHAR AS model_path,
			MIN(filename)::VARCHAR AS file
		FROM samples
		GROUP BY game_id
	),
	last_plies AS (
		SELECT game_id, mover, value
		FROM (
			SELECT game_id, mover, value,
				row_number() OVER (PARTITION BY game_id ORDER BY ply DESC) AS rn
			FROM samples
		)
		WHERE rn = 1
	)
	SELECT g.game_id, g.iteration, g.plies, g.source, g.model_path, g.file, lp.mover, lp.value
	FROM game_stats g
	JOIN last_plies lp ON g.game_id = lp.game_id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]GameSummary, 0, 1024)
	for rows.Next() {
		var (
			g     GameSummary
			file  string
			mover int64
			value float64
		)
		if err := rows.Scan(&g.GameID, &g.Iteration, &g.Plies, &g.Source, &g.ModelPath, &file, &mover, &value); err != nil {
			return nil, err
		}
		g.SourceFile = makeRelativeToRoots(file, roots)
		g.Winner = winnerOf(game.Player(mover), value).String()
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Iteration != out[j].Iteration {
			return out[i].Iteration > out[j].Iteration
		}
		return out[i].GameID < out[j].GameID
	})
	return out, nil
}

func winnerOf(lastMover game.Player, value float64) game.Player {
	switch {
	case value > 0:
		return lastMover
	case value < 0:
		return lastMover.Opponent()
	default:
		return 0
	}
}

func queryPlies(ctx context.Context, db *sql.DB, gameID string) ([]Ply, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ply, mover, board, action, value, policy FROM samples WHERE game_id = ? ORDER BY ply`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ply
	for rows.Next() {
		var (
			p         Ply
			mover     int64
			board     []byte
			action    int64
			policyAny any
		)
		if err := rows.Scan(&p.Ply, &mover, &board, &action, &p.Value, &policyAny); err != nil {
			return nil, err
		}
		who := game.Player(mover)
		p.Mover = who.String()
		p.Board = absoluteRows(board, who)
		a := game.Action(action)
		p.Move = [2]int{a.Row(), a.Col()}
		p.Policy = asFloat32Slice(policyAny)
		out = append(out, p)
	}
	return out, rows.Err()
}

// absoluteRows renders a mover-relative board so x is always player A.
func absoluteRows(board []byte, mover game.Player) []string {
	rows := make([]string, 0, game.Size)
	var sb strings.Builder
	for i, raw := range board {
		v := int8(raw) * int8(mover)
		switch v {
		case 1:
			sb.WriteByte('x')
		case -1:
			sb.WriteByte('o')
		default:
			sb.WriteByte('.')
		}
		if (i+1)%game.Size == 0 {
			rows = append(rows, sb.String())
			sb.Reset()
		}
	}
	return rows
}

func aggregateIterations(games []GameSummary) []IterationStats {
	byIter := make(map[int32]*IterationStats)
	for _, g := range games {
		st, ok := byIter[g.Iteration]
		if !ok {
			st = &IterationStats{Iteration: g.Iteration}
			byIter[g.Iteration] = st
		}
		st.Games++
		st.Samples += int64(g.Plies)
		switch g.Winner {
		case game.PlayerA.String():
			st.WinsA++
		case game.PlayerB.String():
			st.WinsB++
		default:
			st.Draws++
		}
	}
	out := make([]IterationStats, 0, len(byIter))
	for _, st := range byIter {
		if st.Games > 0 {
			st.AvgPlies = float64(st.Samples) / float64(st.Games)
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Iteration < out[j].Iteration })
	return out
}

func makeRelativeToRoots(filename string, roots []string) string {
	fn := strings.TrimSpace(filename)
	best := fn
	for _, r := range roots {
		root := strings.TrimSpace(r)
		if root == "" {
			continue
		}
		rel, err := filepath.Rel(root, fn)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		cand := filepath.ToSlash(filepath.Join(filepath.Base(root), rel))
		if len(cand) < len(best) {
			best = cand
		}
	}
	return best
}

func asFloat32Slice(v any) []float32 {
	switch vv := v.(type) {
	case []float32:
		return vv
	case []float64:
		out := make([]float32, 0, len(vv))
		for _, x := range vv {
			out = append(out, float32(x))
		}
		return out
	case []any:
		out := make([]float32, 0, len(vv))
		for _, x := range vv {
			switch t := x.(type) {
			case float32:
				out = append(out, t)
			case float64:
				out = append(out, float32(t))
			default:
				out = append(out, 0)
			}
		}
		return out
	default:
		return nil
	}
}
