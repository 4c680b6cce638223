package api

import (
	"time"

	"github.com/labstack/echo/v4"

	"audio-transcriber/internal/events"
)

// wsPollInterval bounds how stale the websocket feed can run behind
// the event bus.
const wsPollInterval = 250 * time.Millisecond

// streamEvents pushes one job's pipeline events over a websocket and
// closes once the job is terminal and the buffer is drained.
func (s *Server) streamEvents(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.jobs.Get(id); err != nil {
		return mapStoreError(err)
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx := c.Request().Context()
	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	var seq int64
	for {
		pending := s.bus.SinceJob(id, seq)
		for _, ev := range pending {
			if err := conn.WriteJSON(ev); err != nil {
				return nil
			}
			seq = ev.Seq
		}

		job, err := s.jobs.Get(id)
		if err != nil {
			return nil
		}
		if job.Status.Terminal() && len(s.bus.SinceJob(id, seq)) == 0 {
			// Late subscribers may have missed the trimmed history;
			// always end on the terminal status.
			if len(pending) == 0 {
				_ = conn.WriteJSON(events.Event{
					JobID:  id,
					Type:   events.TypeStatus,
					Status: job.Status,
				})
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
