package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const latestColumns = "task_id, owner, kind, status, error_message, log_ref, artifacts_json, created_at, updated_at"

const eventColumns = "seq, task_id, owner, kind, status, error_message, log_ref, artifacts_json, created_at"

const defaultListLimit = 100

// timeLayout has a fixed-width fraction so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Create appends the PENDING event for a new task.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Task, error) {
	id := strings.TrimSpace(params.ID)
	if id == "" {
		return nil, errors.New("create task: empty id")
	}
	if params.Kind == "" {
		params.Kind = KindVideo
	}
	now := time.Now().UTC()

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM task_events WHERE task_id = ?`, id).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return ErrTaskExists
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO task_events (task_id, owner, kind, status, log_ref, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			id, params.Owner, string(params.Kind), string(StatusPending), nullableString(params.LogRef), formatTime(now),
		)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrTaskExists) || isUniqueViolation(err) {
			return nil, fmt.Errorf("create task %s: %w", id, ErrTaskExists)
		}
		return nil, fmt.Errorf("create task %s: %w", id, err)
	}
	return &Task{
		ID:        id,
		Owner:     params.Owner,
		Kind:      params.Kind,
		Status:    StatusPending,
		Artifacts: []string{},
		LogRef:    params.LogRef,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition appends a status change after validating it against the latest
// event. Owner, kind and log reference carry over from the previous event.
func (s *Store) Transition(ctx context.Context, taskID string, to Status, opts TransitionOptions) (*Task, error) {
	var task *Task
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+latestColumns+` FROM task_latest WHERE task_id = ?`, taskID))
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, to)
		}
		var artifactsJSON sql.NullString
		if to == StatusCompleted {
			encoded, err := json.Marshal(nonNilSlice(opts.Artifacts))
			if err != nil {
				return fmt.Errorf("encode artifacts: %w", err)
			}
			artifactsJSON = sql.NullString{String: string(encoded), Valid: true}
		}
		errorMessage := ""
		if to == StatusFailed {
			errorMessage = opts.ErrorMessage
			if strings.TrimSpace(errorMessage) == "" {
				errorMessage = "unknown failure"
			}
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO task_events (task_id, owner, kind, status, error_message, log_ref, artifacts_json, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			taskID, current.Owner, string(current.Kind), string(to), nullableString(errorMessage),
			nullableString(current.LogRef), artifactsJSON, formatTime(now),
		); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s already recorded", ErrInvalidTransition, to)
			}
			return err
		}
		current.Status = to
		current.ErrorMessage = errorMessage
		if to == StatusCompleted {
			current.Artifacts = nonNilSlice(opts.Artifacts)
		}
		current.UpdatedAt = now
		task = current
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transition task %s: %w", taskID, err)
	}
	return task, nil
}

// Latest returns the current state of a task.
func (s *Store) Latest(ctx context.Context, taskID string) (*Task, error) {
	ctx = ensureContext(ctx)
	task, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+latestColumns+` FROM task_latest WHERE task_id = ?`, taskID))
	if err != nil {
		return nil, fmt.Errorf("latest task %s: %w", taskID, err)
	}
	return task, nil
}

// History returns every event of a task in append order.
func (s *Store) History(ctx context.Context, taskID string) ([]Event, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM task_events WHERE task_id = ? ORDER BY seq`, taskID)
	if err != nil {
		return nil, fmt.Errorf("task history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("task history %s: %w", taskID, ErrTaskNotFound)
	}
	return events, nil
}

// List returns tasks ordered by most recent activity first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*Task, error) {
	ctx = ensureContext(ctx)
	var (
		clauses []string
		args    []any
	)
	if owner := strings.TrimSpace(opts.Owner); owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, owner)
	}
	if opts.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, string(opts.Kind))
	}
	query := `SELECT ` + latestColumns + ` FROM task_latest`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats counts tasks grouped by current status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM task_latest GROUP BY status`)
	if err != nil {
		return Stats{}, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{Counts: make(map[Status]int, len(allStatuses))}
	for _, status := range allStatuses {
		stats.Counts[status] = 0
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.Counts[Status(status)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// FailInterrupted fails every task left PENDING or RUNNING, typically by a
// daemon that stopped without finishing them. Pending tasks pass through
// RUNNING so the recorded history only uses lifecycle edges. It returns the
// number of tasks failed.
func (s *Store) FailInterrupted(ctx context.Context, reason string) (int, error) {
	if strings.TrimSpace(reason) == "" {
		reason = InterruptedReason
	}
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, status FROM task_latest WHERE status IN (?, ?) ORDER BY seq`,
		string(StatusPending), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("find interrupted tasks: %w", err)
	}
	type pending struct {
		id     string
		status Status
	}
	var stuck []pending
	for rows.Next() {
		var p pending
		var status string
		if err := rows.Scan(&p.id, &status); err != nil {
			rows.Close()
			return 0, err
		}
		p.status = Status(status)
		stuck = append(stuck, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	failed := 0
	for _, p := range stuck {
		if p.status == StatusPending {
			if _, err := s.Transition(ctx, p.id, StatusRunning, TransitionOptions{}); err != nil {
				return failed, err
			}
		}
		if _, err := s.Transition(ctx, p.id, StatusFailed, TransitionOptions{ErrorMessage: reason}); err != nil {
			return failed, err
		}
		failed++
	}
	return failed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task         Task
		kind         string
		status       string
		errorMessage sql.NullString
		logRef       sql.NullString
		artifacts    sql.NullString
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(&task.ID, &task.Owner, &kind, &status, &errorMessage, &logRef, &artifacts, &createdRaw, &updatedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	task.Kind = Kind(kind)
	task.Status = Status(status)
	task.ErrorMessage = errorMessage.String
	task.LogRef = logRef.String
	decoded, err := decodeArtifacts(artifacts)
	if err != nil {
		return nil, err
	}
	task.Artifacts = decoded
	task.CreatedAt = parseTime(createdRaw)
	task.UpdatedAt = parseTime(updatedRaw)
	return &task, nil
}

func scanEvent(scanner rowScanner) (Event, error) {
	var (
		event        Event
		kind         string
		status       string
		errorMessage sql.NullString
		logRef       sql.NullString
		artifacts    sql.NullString
		createdRaw   string
	)
	if err := scanner.Scan(&event.Seq, &event.TaskID, &event.Owner, &kind, &status, &errorMessage, &logRef, &artifacts, &createdRaw); err != nil {
		return Event{}, err
	}
	event.Kind = Kind(kind)
	event.Status = Status(status)
	event.ErrorMessage = errorMessage.String
	event.LogRef = logRef.String
	if artifacts.Valid {
		decoded, err := decodeArtifacts(artifacts)
		if err != nil {
			return Event{}, err
		}
		event.Artifacts = decoded
	}
	event.CreatedAt = parseTime(createdRaw)
	return event, nil
}

func decodeArtifacts(raw sql.NullString) ([]string, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return []string{}, nil
	}
	var artifacts []string
	if err := json.Unmarshal([]byte(raw.String), &artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts: %w", err)
	}
	return nonNilSlice(artifacts), nil
}

func nonNilSlice(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableString(value string) sql.NullString {
	if strings.TrimSpace(value) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
