package commands

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/tveebot/tracker/pkg/db"
	"github.com/tveebot/tracker/pkg/errors"
	"github.com/tveebot/tracker/pkg/queue"
	"github.com/tveebot/tracker/pkg/tracker"
)

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(files []string, dirs []string) error {
	for _, file := range files {
		if file == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory for %s", file)
		}
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create directory %s", dir)
		}
	}
	return nil
}

func openStore(ctx context.Context) (*db.Store, error) {
	if err := ensureDirectories([]string{cfg.SQLitePath}, nil); err != nil {
		return nil, err
	}
	store, err := db.Open(ctx, cfg.SQLitePath, db.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "db init failed")
	}
	return store, nil
}

func openQueue() (queue.Queue, error) {
	if cfg.QueuePath == "" {
		logger.Warn("queue_in_memory", "reason", "queue-path is empty")
		return queue.NewMemory(cfg.QueueCapacity, cfg.QueueTimeout), nil
	}
	q, err := queue.OpenBolt(cfg.QueuePath, queue.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrap(err, "queue init failed")
	}
	return q, nil
}

// withAdmin runs fn against a tracker that is never started; only its
// administrative operations are used.
func withAdmin(ctx context.Context, fn func(*tracker.Tracker) error) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(tracker.New(nil, store, nil, time.Hour, tracker.WithLogger(logger)))
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range headers {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
