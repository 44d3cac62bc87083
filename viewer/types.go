package viewer

// GameSummary is one self-play game in the games list.
type GameSummary struct {
	GameID     string `json:"game_id"`
	Iteration  int32  `json:"iteration"`
	Plies      int32  `json:"plies"`
	Winner     string `json:"winner"`
	Source     string `json:"source"`
	ModelPath  string `json:"model_path,omitempty"`
	SourceFile string `json:"file"`
}

// GamesResponse is the paginated response for /api/games.
type GamesResponse struct {
	Total int64         `json:"total"`
	Games []GameSummary `json:"games"`
}

// Ply is one recorded position of a game. Board rows use x for player A,
// o for player B and . for empty, regardless of who was to move.
type Ply struct {
	Ply    int32     `json:"ply"`
	Mover  string    `json:"mover"`
	Board  []string  `json:"board"`
	Move   [2]int    `json:"move"`
	Value  float32   `json:"value"`
	Policy []float32 `json:"policy"`
}

// GameResponse is the response for /api/games/:id.
type GameResponse struct {
	Game  GameSummary `json:"game"`
	Plies []Ply       `json:"plies"`
}

// IterationStats aggregates the games of one self-play iteration.
type IterationStats struct {
	Iteration int32   `json:"iteration"`
	Games     int64   `json:"games"`
	Samples   int64   `json:"samples"`
	WinsA     int64   `json:"wins_a"`
	WinsB     int64   `json:"wins_b"`
	Draws     int64   `json:"draws"`
	AvgPlies  float64 `json:"avg_plies"`
}

// StatsResponse is the response for /api/stats.
type StatsResponse struct {
	Shards     int64            `json:"shards"`
	Samples    int64            `json:"samples"`
	Games      int64            `json:"games"`
	Iterations []IterationStats `json:"iterations"`
}
