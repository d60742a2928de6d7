package pgstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scanhive/mula/internal/model"
	"github.com/scanhive/mula/internal/queue"
	"github.com/scanhive/mula/internal/taskstore"
)

// PostgresQueue implements queue.Queue against the shared items table,
// scoped to one scheduler_id. Ordering and admissibility mirror
// internal/queue.MemoryQueue. Unlike MemoryQueue, a new item takes its
// hash as its id, and no queue metrics or observability.Decisions are
// published.
type PostgresQueue struct {
	store       *Store
	schedulerID string
	variant     model.PayloadKind
	maxSize     int
	policy      queue.PushPolicy
	clock       model.Clock
}

var _ queue.Queue = (*PostgresQueue)(nil)
var _ queue.TaskPusher = (*PostgresQueue)(nil)

func (q *PostgresQueue) SchedulerID() string { return q.schedulerID }
func (q *PostgresQueue) MaxSize() int        { return q.maxSize }

// pgExecutor is satisfied by both *pgxpool.Pool and pgx.Tx, so the
// admissibility chain below can run either directly against the pool or
// inside the transaction PushWithTask opens.
type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Push applies the admissibility rule directly against the pool. It is
// used only by the control API's direct push endpoint, which durably
// queues an item with no accompanying task-history row. Every populate
// path that also needs a task row goes through PushWithTask instead.
func (q *PostgresQueue) Push(item *model.PrioritizedItem) (*model.PrioritizedItem, error) {
	ctx := context.Background()
	return q.pushLocked(ctx, q.store.pool, item)
}

// PushWithTask applies the same admissibility rule as Push, then inserts
// task's row, inside one transaction. Pop's SELECT ... FOR UPDATE SKIP
// LOCKED can therefore never see an item whose task-history row hasn't
// committed yet. store is accepted for interface parity with
// MemoryQueue.PushWithTask; the Postgres path writes the tasks row itself
// so the insert shares the transaction.
func (q *PostgresQueue) PushWithTask(ctx context.Context, item *model.PrioritizedItem, _ taskstore.Store, task *model.Task) (*model.PrioritizedItem, error) {
	tx, err := q.store.pool.Begin(ctx)
	if err != nil {
		return nil, model.NewError("pgqueue.PushWithTask", model.KindPersistenceError, err)
	}
	defer tx.Rollback(ctx)

	pushed, err := q.pushLocked(ctx, tx, item)
	if err != nil {
		return nil, err
	}

	task.ID = pushed.ID
	task.SchedulerID = pushed.SchedulerID
	task.PItem = *pushed

	pItem, err := json.Marshal(task.PItem)
	if err != nil {
		return nil, model.NewError("pgqueue.PushWithTask", model.KindPersistenceError, err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (id, scheduler_id, hash, p_item, status, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, task.ID, task.SchedulerID, task.PItem.Hash, pItem, task.Status, task.CreatedAt, task.ModifiedAt)
	if err != nil {
		return nil, model.NewError("pgqueue.PushWithTask", model.KindPersistenceError, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, model.NewError("pgqueue.PushWithTask", model.KindPersistenceError, err)
	}
	return pushed, nil
}

func (q *PostgresQueue) pushLocked(ctx context.Context, ex pgExecutor, item *model.PrioritizedItem) (*model.PrioritizedItem, error) {
	if item.Data.Kind != q.variant || !item.Data.Valid() {
		return nil, model.NewError("pgqueue.Push", model.KindInvalidItem, nil)
	}
	if item.Hash == "" {
		item.Hash = item.Data.Hash()
	}

	existing, err := q.getByHash(ctx, ex, item.Hash)
	if err != nil && !isNotFoundErr(err) {
		return nil, err
	}

	if existing == nil {
		size, err := q.qSize(ctx, ex)
		if err != nil {
			return nil, err
		}
		if q.maxSize > 0 && size >= q.maxSize {
			return nil, model.NewError("pgqueue.Push", model.KindQueueFull, nil)
		}
		now := q.clock()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.ModifiedAt = now
		if item.ID == "" {
			item.ID = item.Hash
		}
		item.SchedulerID = q.schedulerID
		if err := q.insert(ctx, ex, item); err != nil {
			return nil, err
		}
		return item, nil
	}

	dataChanged := existing.Data.Hash() != item.Data.Hash() || existing.Data.Kind != item.Data.Kind
	prioChanged := existing.Priority != item.Priority

	switch {
	case q.policy.AllowReplace,
		dataChanged && q.policy.AllowUpdates,
		prioChanged && q.policy.AllowPriorityUpdates:
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		item.ModifiedAt = q.clock()
		item.SchedulerID = q.schedulerID
		if err := q.insert(ctx, ex, item); err != nil {
			return nil, err
		}
		return item, nil
	default:
		return nil, model.NewError("pgqueue.Push", model.KindNotAllowed, nil)
	}
}

func (q *PostgresQueue) insert(ctx context.Context, ex pgExecutor, item *model.PrioritizedItem) error {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return model.NewError("pgqueue.insert", model.KindPersistenceError, err)
	}
	_, err = ex.Exec(ctx, `
		INSERT INTO items (id, scheduler_id, priority, data, hash, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scheduler_id, hash) DO UPDATE SET
			priority = EXCLUDED.priority,
			data = EXCLUDED.data,
			modified_at = EXCLUDED.modified_at
	`, item.ID, item.SchedulerID, item.Priority, data, item.Hash, item.CreatedAt, item.ModifiedAt)
	if err != nil {
		return model.NewError("pgqueue.insert", model.KindPersistenceError, err)
	}
	return nil
}

func (q *PostgresQueue) getByHash(ctx context.Context, ex pgExecutor, hash string) (*model.PrioritizedItem, error) {
	row := ex.QueryRow(ctx, `
		SELECT id, scheduler_id, priority, data, hash, created_at, modified_at
		FROM items WHERE scheduler_id = $1 AND hash = $2
	`, q.schedulerID, hash)
	item, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, model.ErrNotFound
		}
		return nil, model.NewError("pgqueue.getByHash", model.KindPersistenceError, err)
	}
	return item, nil
}

func isNotFoundErr(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}

func scanItem(row pgx.Row) (*model.PrioritizedItem, error) {
	var item model.PrioritizedItem
	var data []byte
	if err := row.Scan(&item.ID, &item.SchedulerID, &item.Priority, &data, &item.Hash, &item.CreatedAt, &item.ModifiedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &item.Data); err != nil {
		return nil, err
	}
	return &item, nil
}

// Pop removes and returns the head item: min priority, ties broken by
// earliest created_at.
func (q *PostgresQueue) Pop() (*model.PrioritizedItem, error) {
	ctx := context.Background()
	tx, err := q.store.pool.Begin(ctx)
	if err != nil {
		return nil, model.NewError("pgqueue.Pop", model.KindPersistenceError, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, scheduler_id, priority, data, hash, created_at, modified_at
		FROM items WHERE scheduler_id = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, q.schedulerID)

	item, err := scanItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, model.ErrQueueEmpty
		}
		return nil, model.NewError("pgqueue.Pop", model.KindPersistenceError, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM items WHERE id = $1`, item.ID); err != nil {
		return nil, model.NewError("pgqueue.Pop", model.KindPersistenceError, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, model.NewError("pgqueue.Pop", model.KindPersistenceError, err)
	}
	return item, nil
}

// Peek returns the item at position index of the (priority asc, created_at
// asc) order (0 = head) without removing it.
func (q *PostgresQueue) Peek(index int) (*model.PrioritizedItem, bool) {
	ctx := context.Background()
	row := q.store.pool.QueryRow(ctx, `
		SELECT id, scheduler_id, priority, data, hash, created_at, modified_at
		FROM items WHERE scheduler_id = $1
		ORDER BY priority ASC, created_at ASC
		LIMIT 1 OFFSET $2
	`, q.schedulerID, index)

	item, err := scanItem(row)
	if err != nil {
		return nil, false
	}
	return item, true
}

// Remove deletes the item with the given id.
func (q *PostgresQueue) Remove(id string) error {
	ctx := context.Background()
	tag, err := q.store.pool.Exec(ctx, `DELETE FROM items WHERE scheduler_id = $1 AND id = $2`, q.schedulerID, id)
	if err != nil {
		return model.NewError("pgqueue.Remove", model.KindPersistenceError, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// QSize returns the current item count for this scheduler.
func (q *PostgresQueue) QSize() int {
	size, err := q.QSizeCtx(context.Background())
	if err != nil {
		return 0
	}
	return size
}

// QSizeCtx is QSize with an explicit context, used internally where Push
// already has one in scope.
func (q *PostgresQueue) QSizeCtx(ctx context.Context) (int, error) {
	return q.qSize(ctx, q.store.pool)
}

func (q *PostgresQueue) qSize(ctx context.Context, ex pgExecutor) (int, error) {
	var count int
	err := ex.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE scheduler_id = $1`, q.schedulerID).Scan(&count)
	if err != nil {
		return 0, model.NewError("pgqueue.QSize", model.KindPersistenceError, err)
	}
	return count, nil
}

func (q *PostgresQueue) Full() bool {
	if q.maxSize <= 0 {
		return false
	}
	return q.QSize() >= q.maxSize
}

func (q *PostgresQueue) Empty() bool { return q.QSize() == 0 }
