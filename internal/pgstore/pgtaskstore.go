package pgstore

import (
	"context"
	"encoding/json"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/taskstore"
)

// PostgresTaskStore implements taskstore.Store against the shared tasks
// table.
type PostgresTaskStore struct {
	store *Store
}

var _ taskstore.Store = (*PostgresTaskStore)(nil)

func (s *PostgresTaskStore) Create(ctx context.Context, task *model.Task) error {
	pItem, err := json.Marshal(task.PItem)
	if err != nil {
		return model.NewError("pgtaskstore.Create", model.KindPersistenceError, err)
	}
	_, err = s.store.pool.Exec(ctx, `
		INSERT INTO tasks (id, scheduler_id, hash, p_item, status, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.SchedulerID, task.PItem.Hash, pItem, task.Status, task.CreatedAt, task.ModifiedAt)
	if err != nil {
		return model.NewError("pgtaskstore.Create", model.KindPersistenceError, err)
	}
	return nil
}

func (s *PostgresTaskStore) Get(ctx context.Context, id string) (*model.Task, error) {
	row := s.store.pool.QueryRow(ctx, `
		SELECT id, scheduler_id, p_item, status, created_at, modified_at
		FROM tasks WHERE id = $1
	`, id)
	return scanTask(row)
}

func (s *PostgresTaskStore) GetByHash(ctx context.Context, schedulerID, hash string) (*model.Task, error) {
	row := s.store.pool.QueryRow(ctx, `
		SELECT id, scheduler_id, p_item, status, created_at, modified_at
		FROM tasks WHERE scheduler_id = $1 AND hash = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, schedulerID, hash)
	return scanTask(row)
}

func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, id string, status model.TaskStatus) error {
	tag, err := s.store.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, modified_at = NOW() WHERE id = $2
	`, status, id)
	if err != nil {
		return model.NewError("pgtaskstore.UpdateStatus", model.KindPersistenceError, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *PostgresTaskStore) List(ctx context.Context, schedulerID string, status model.TaskStatus) ([]*model.Task, error) {
	query := `SELECT id, scheduler_id, p_item, status, created_at, modified_at FROM tasks WHERE scheduler_id = $1`
	args := []interface{}{schedulerID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}

	rows, err := s.store.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, model.NewError("pgtaskstore.List", model.KindPersistenceError, err)
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		var task model.Task
		var pItem []byte
		if err := rows.Scan(&task.ID, &task.SchedulerID, &pItem, &task.Status, &task.CreatedAt, &task.ModifiedAt); err != nil {
			return nil, model.NewError("pgtaskstore.List", model.KindPersistenceError, err)
		}
		if err := json.Unmarshal(pItem, &task.PItem); err != nil {
			return nil, model.NewError("pgtaskstore.List", model.KindPersistenceError, err)
		}
		out = append(out, &task)
	}
	return out, nil
}

func scanTask(row interface {
	Scan(dest ...interface{}) error
}) (*model.Task, error) {
	var task model.Task
	var pItem []byte
	if err := row.Scan(&task.ID, &task.SchedulerID, &pItem, &task.Status, &task.CreatedAt, &task.ModifiedAt); err != nil {
		if isNoRows(err) {
			return nil, model.ErrNotFound
		}
		return nil, model.NewError("pgtaskstore.scan", model.KindPersistenceError, err)
	}
	if err := json.Unmarshal(pItem, &task.PItem); err != nil {
		return nil, model.NewError("pgtaskstore.scan", model.KindPersistenceError, err)
	}
	return &task, nil
}
