package db

import (
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/audio-scribe/backend/internal/db/models"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

const runColumns = `id, file_name, engine, language, options, title, artist, status, error, results, degraded, created_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*models.Run, error) {
	r := &models.Run{}
	var options, errMsg sql.NullString
	var degraded int
	var completedAt sql.NullTime
	if err := s.Scan(&r.ID, &r.FileName, &r.Engine, &r.Language, &options, &r.Title, &r.Artist,
		&r.Status, &errMsg, &r.Results, &degraded, &r.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if options.Valid {
		r.Options = json.RawMessage(options.String)
	}
	if errMsg.Valid {
		r.Error = errMsg.String
	}
	r.Degraded = degraded != 0
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

// CreateRun inserts a run in the running state.
func (d *Database) CreateRun(r *models.Run) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = models.RunRunning
	}
	var options any
	if len(r.Options) > 0 {
		options = string(r.Options)
	}
	_, err := d.db.Exec(`
		INSERT INTO runs (id, file_name, engine, language, options, title, artist, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.FileName, r.Engine, r.Language, options, r.Title, r.Artist, r.Status, r.CreatedAt,
	)
	return err
}

// AddRunChunk stores one streamed result and bumps the run's result count.
func (d *Database) AddRunChunk(c *models.RunChunk, degraded bool) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var segments any
	if len(c.Segments) > 0 {
		segments = string(c.Segments)
	}
	if _, err := tx.Exec(`
		INSERT INTO run_chunks (run_id, idx, chunk, win, kind, start_sec, end_sec, text, segments, post_mode, post_text, post_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Index, c.Chunk, c.Window, c.Kind, c.Start, c.End, c.Text, segments, c.PostMode, c.PostText, c.PostError,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		UPDATE runs SET results = results + 1, degraded = MAX(degraded, ?) WHERE id = ?`,
		boolInt(degraded), c.RunID,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishRun records the terminal state of a run.
func (d *Database) FinishRun(id string, status models.RunStatus, errMsg string) error {
	var e any
	if errMsg != "" {
		e = errMsg
	}
	_, err := d.db.Exec("UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?",
		status, e, time.Now(), id)
	return err
}

// GetRun returns sql.ErrNoRows when the run does not exist.
func (d *Database) GetRun(id string) (*models.Run, error) {
	return scanRun(d.db.QueryRow("SELECT "+runColumns+" FROM runs WHERE id = ?", id))
}

// ListRuns returns runs newest first.
func (d *Database) ListRuns(limit, offset int) ([]models.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query("SELECT "+runColumns+" FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// searchWindow bounds how many recent runs a search looks at.
const searchWindow = 1000

// SearchRuns ranks recent runs by fuzzy match of query against the file
// name, title and artist. Closer matches come first.
func (d *Database) SearchRuns(query string, limit int) ([]models.Run, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return d.ListRuns(limit, 0)
	}
	all, err := d.ListRuns(searchWindow, 0)
	if err != nil {
		return nil, err
	}

	targets := make([]string, len(all))
	for i, r := range all {
		targets[i] = strings.Join([]string{r.FileName, r.Title, r.Artist}, " ")
	}
	ranks := fuzzy.RankFindFold(query, targets)
	sort.Stable(ranks)

	if limit <= 0 {
		limit = 50
	}
	out := []models.Run{}
	for _, rk := range ranks {
		if len(out) == limit {
			break
		}
		out = append(out, all[rk.OriginalIndex])
	}
	return out, nil
}

// RunChunks returns a run's stored results in stream order.
func (d *Database) RunChunks(runID string) ([]models.RunChunk, error) {
	rows, err := d.db.Query(`
		SELECT run_id, idx, chunk, win, kind, start_sec, end_sec, text, segments, post_mode, post_text, post_error
		FROM run_chunks WHERE run_id = ? ORDER BY idx ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []models.RunChunk{}
	for rows.Next() {
		var c models.RunChunk
		var segments sql.NullString
		if err := rows.Scan(&c.RunID, &c.Index, &c.Chunk, &c.Window, &c.Kind, &c.Start, &c.End,
			&c.Text, &segments, &c.PostMode, &c.PostText, &c.PostError); err != nil {
			return nil, err
		}
		if segments.Valid {
			c.Segments = json.RawMessage(segments.String)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteRun removes a run and its results.
func (d *Database) DeleteRun(id string) error {
	res, err := d.db.Exec("DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteRunsBefore removes finished runs created before cutoff and returns
// how many were removed. Running runs are kept.
func (d *Database) DeleteRunsBefore(cutoff time.Time) (int64, error) {
	res, err := d.db.Exec("DELETE FROM runs WHERE created_at < ? AND status != ?", cutoff, models.RunRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailStaleRuns marks runs left running by a previous process as failed.
func (d *Database) FailStaleRuns() (int64, error) {
	res, err := d.db.Exec("UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE status = ?",
		models.RunFailed, "interrupted by server restart", time.Now(), models.RunRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
