package coro

import (
	"context"
	"log/slog"
)

func effectiveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func (w *Worker) debugEnabled() bool {
	return w.logger.Enabled(context.Background(), slog.LevelDebug)
}

func (w *Worker) logTagDispatch(tag userDataTag, userData uint64, res int32) {
	if !w.debugEnabled() {
		return
	}
	w.logger.Debug("completion dispatched",
		slog.Int("worker", int(w.id)),
		slog.String("tag", tag.String()),
		slog.Uint64("user_data", userData),
		slog.Int("res", int(res)),
	)
}
