package postgres

import (
	"context"
	"time"

	"flowplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) AppendLog(ctx context.Context, tx store.Tx, entry *store.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO execution_log (id, timestamp, step_id, step_name, level, message, details, performed_by, executor_id, service_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.conn(tx).ExecContext(ctx, query,
		entry.ID, entry.Timestamp, entry.StepID, entry.StepName, entry.Level,
		entry.Message, entry.Details, entry.PerformedBy, entry.ExecutorID, entry.ServiceID,
	)
	return err
}

func (s *Store) ListLogsByService(ctx context.Context, tx store.Tx, serviceID string) ([]store.ExecutionLog, error) {
	query := `
		SELECT id, timestamp, step_id, step_name, level, message, details, performed_by, executor_id, service_id
		FROM execution_log
		WHERE service_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := s.conn(tx).QueryContext(ctx, query, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []store.ExecutionLog
	for rows.Next() {
		var entry store.ExecutionLog
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.StepID, &entry.StepName, &entry.Level,
			&entry.Message, &entry.Details, &entry.PerformedBy, &entry.ExecutorID, &entry.ServiceID,
		); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}

	return logs, rows.Err()
}
