package viewer

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Register mounts the read-only game endpoints on r.
func Register(r gin.IRouter, cache *DBCache) {
	r.GET("/games", func(c *gin.Context) { handleGames(c, cache) })
	r.GET("/games/:id", func(c *gin.Context) { handleGame(c, cache) })
	r.GET("/stats", func(c *gin.Context) { handleStats(c, cache) })
}

func handleGames(c *gin.Context, cache *DBCache) {
	if c.Query("refresh") != "" {
		if err := cache.Refresh(); err != nil {
			c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
	}
	games, err := cache.GamesIndex(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	if source := strings.TrimSpace(c.Query("source")); source != "" {
		filtered := make([]GameSummary, 0, len(games))
		for _, g := range games {
			if g.Source == source {
				filtered = append(filtered, g)
			}
		}
		games = filtered
	}

	limit := parseIntQuery(c, "limit", 100)
	offset := parseIntQuery(c, "offset", 0)
	c.JSON(http.StatusOK, GamesResponse{
		Total: int64(len(games)),
		Games: paginate(games, limit, offset),
	})
}

func handleGame(c *gin.Context, cache *DBCache) {
	resp, err := cache.Game(c.Request.Context(), c.Param("id"))
	if errors.Is(err, ErrGameNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func handleStats(c *gin.Context, cache *DBCache) {
	resp, err := cache.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func paginate(games []GameSummary, limit, offset int) []GameSummary {
	if offset >= len(games) {
		return []GameSummary{}
	}
	end := offset + limit
	if limit <= 0 || end > len(games) {
		end = len(games)
	}
	return games[offset:end]
}

func parseIntQuery(c *gin.Context, key string, def int) int {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
