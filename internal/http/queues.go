package http

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/zapvia/campaign-gateway/internal/queue"
)

// queueInspection exposes job counts and pause/resume/clear per queue for
// operational tooling. The core pipeline never calls these.
type queueInspection struct {
	queues map[string]*queue.Queue
}

func (qi *queueInspection) byName(c echo.Context) (*queue.Queue, error) {
	q, ok := qi.queues[c.Param("name")]
	if !ok {
		return nil, c.JSON(http.StatusNotFound, map[string]string{"error": "unknown queue"})
	}
	return q, nil
}

func (qi *queueInspection) countsHandler(c echo.Context) error {
	out := make(map[string]queue.Counts, len(qi.queues))
	for name, q := range qi.queues {
		counts, err := q.Counts(c.Request().Context())
		if err != nil {
			log.Errorf("queue counts failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue backend unavailable"})
		}
		out[name] = counts
	}
	return c.JSON(http.StatusOK, out)
}

func (qi *queueInspection) pauseHandler(c echo.Context) error {
	q, errResp := qi.byName(c)
	if q == nil {
		return errResp
	}
	if err := q.Pause(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue backend unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"queue": q.Name(), "state": "paused"})
}

func (qi *queueInspection) resumeHandler(c echo.Context) error {
	q, errResp := qi.byName(c)
	if q == nil {
		return errResp
	}
	if err := q.Resume(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue backend unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"queue": q.Name(), "state": "resumed"})
}

func (qi *queueInspection) clearHandler(c echo.Context) error {
	q, errResp := qi.byName(c)
	if q == nil {
		return errResp
	}
	force := c.QueryParam("force") == "true"
	if err := q.Obliterate(c.Request().Context(), force); err != nil {
		if errors.Is(err, queue.ErrActiveJobs) {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "queue backend unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"queue": q.Name(), "state": "cleared"})
}
