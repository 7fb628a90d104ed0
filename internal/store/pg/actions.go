package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/action"
)

// ActionStore is the durable action queue table.
type ActionStore struct{ db *sql.DB }

var _ action.Store = (*ActionStore)(nil)

func (s *Store) Actions() *ActionStore { return &ActionStore{db: s.db} }

func (a *ActionStore) Insert(ctx context.Context, act action.Action) error {
	payload := []byte(act.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	_, err := a.db.ExecContext(ctx, `
		insert into actions (id, org_id, machine_id, action_type, payload, status, result, created_by, created_at, executed_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, act.ID, act.OrgID, act.MachineID, act.Type, payload, string(act.Status), act.Result, act.CreatedBy, act.CreatedAt, act.ExecutedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return errors.New("action id already exists")
	}
	return err
}

func (a *ActionStore) Find(ctx context.Context, id string) (action.Action, error) {
	row := a.db.QueryRowContext(ctx, `
		select id, org_id, machine_id, action_type, payload, status, result, created_by, created_at, executed_at
		from actions where id=$1
	`, id)
	act, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, action.ErrNotFound
	}
	return act, err
}

func (a *ActionStore) ListPending(ctx context.Context, orgID, machineID string) ([]action.Action, error) {
	rows, err := a.db.QueryContext(ctx, `
		select id, org_id, machine_id, action_type, payload, status, result, created_by, created_at, executed_at
		from actions
		where org_id=$1 and machine_id=$2 and status in ('pending', 'executing')
		order by created_at asc, id asc
	`, orgID, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []action.Action
	for rows.Next() {
		act, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, act)
	}
	return out, rows.Err()
}

func (a *ActionStore) MarkExecuting(ctx context.Context, id string, at time.Time) error {
	res, err := a.db.ExecContext(ctx, `
		update actions set status='executing' where id=$1 and status='pending'
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Either the row is past pending (fine, the flag is advisory) or it
	// does not exist at all.
	var dummy int
	err = a.db.QueryRowContext(ctx, `select 1 from actions where id=$1`, id).Scan(&dummy)
	if errors.Is(err, sql.ErrNoRows) {
		return action.ErrNotFound
	}
	return err
}

func (a *ActionStore) CompleteIfPending(ctx context.Context, id string, status action.Status, result string, at time.Time) (action.Action, bool, error) {
	// The status guard makes the first terminal write win; later reports
	// read back the row unchanged.
	row := a.db.QueryRowContext(ctx, `
		update actions set status=$2, result=$3, executed_at=$4
		where id=$1 and status in ('pending', 'executing')
		returning id, org_id, machine_id, action_type, payload, status, result, created_by, created_at, executed_at
	`, id, string(status), result, at)
	act, err := scanAction(row)
	if err == nil {
		return act, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return action.Action{}, false, err
	}

	act, err = a.Find(ctx, id)
	if err != nil {
		return action.Action{}, false, err
	}
	return act, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (action.Action, error) {
	var act action.Action
	var payload []byte
	var status, result, createdBy sql.NullString
	var executedAt sql.NullTime
	err := row.Scan(&act.ID, &act.OrgID, &act.MachineID, &act.Type, &payload,
		&status, &result, &createdBy, &act.CreatedAt, &executedAt)
	if err != nil {
		return action.Action{}, err
	}
	if len(payload) > 0 && string(payload) != "null" {
		act.Payload = payload
	}
	act.Status = action.Status(status.String)
	act.Result = result.String
	act.CreatedBy = createdBy.String
	if executedAt.Valid {
		ts := executedAt.Time
		act.ExecutedAt = &ts
	}
	return act, nil
}
