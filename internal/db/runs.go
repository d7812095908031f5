package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/peterje/runbox/internal/models"
)

var ErrRunNotFound = errors.New("run not found")

// Store records submitted snippets and how they ended.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const runColumns = `id, session_id, code, mode, status, output, created_at, finished_at`

func (s *Store) InsertRun(run models.Run) error {
	_, err := s.db.Exec(`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Code, run.Mode, run.Status, run.Output, run.CreatedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishSession records the end of the interactive run backing sessionID.
// Runs that already left the running state are not touched.
func (s *Store) FinishSession(sessionID, status string) error {
	_, err := s.db.Exec(`UPDATE runs SET status = ?, finished_at = ? WHERE session_id = ? AND status = ?`,
		status, time.Now(), sessionID, models.StatusRunning)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// CloseSession marks a still-running interactive run as closed.
func (s *Store) CloseSession(sessionID string) error {
	return s.FinishSession(sessionID, models.StatusClosed)
}

func (s *Store) GetRun(id string) (models.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Run{}, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]models.Run, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkStaleRunning closes running interactive runs whose session is not
// in active, e.g. after the process hosting the sessions went away.
func (s *Store) MarkStaleRunning(active []string) (int, error) {
	rows, err := s.db.Query(`SELECT session_id FROM runs WHERE status = ? AND session_id IS NOT NULL`, models.StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("query running: %w", err)
	}
	var running []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		running = append(running, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	activeSet := make(map[string]struct{}, len(active))
	for _, id := range active {
		activeSet[id] = struct{}{}
	}

	stale := 0
	for _, id := range running {
		if _, ok := activeSet[id]; ok {
			continue
		}
		if err := s.CloseSession(id); err != nil {
			return stale, err
		}
		stale++
	}
	return stale, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (models.Run, error) {
	var run models.Run
	err := sc.Scan(&run.ID, &run.SessionID, &run.Code, &run.Mode, &run.Status, &run.Output, &run.CreatedAt, &run.FinishedAt)
	return run, err
}
