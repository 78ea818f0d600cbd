// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package fiber

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// NewLogger returns a logger writing text records at level or above to w
// and, when the systemd journal is reachable, to the journal as well.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	text := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	handlers := []slog.Handler{text}

	journal, err := slogjournal.NewHandler(&slogjournal.Options{
		ReplaceGroup: toJournalKey,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			a.Key = toJournalKey(a.Key)
			return a
		},
	})
	switch {
	case err == nil:
		handlers = append(handlers, journal)
	case text.Enabled(context.Background(), slog.LevelDebug):
		record := slog.NewRecord(time.Now(), slog.LevelDebug, "systemd journal unavailable", 0)
		record.Add("error", err)
		_ = text.Handle(context.Background(), record)
	}

	return slog.New(slogmulti.Fanout(handlers...))
}

// toJournalKey maps an attribute key to the journal's field alphabet.
func toJournalKey(key string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, strings.ToUpper(key))
}
