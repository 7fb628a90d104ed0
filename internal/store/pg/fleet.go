package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BunaTech-G/Dash-Fleet/internal/fleet"
)

// FleetStore is the durable side of the fleet registry. Reports are stored
// as jsonb so agents can extend the payload without schema changes.
type FleetStore struct{ db *sql.DB }

var _ fleet.Store = (*FleetStore)(nil)

func (s *Store) Fleet() *FleetStore { return &FleetStore{db: s.db} }

func (f *FleetStore) Upsert(ctx context.Context, e fleet.Entry) error {
	report, err := json.Marshal(e.Report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = f.db.ExecContext(ctx, `
		insert into fleet (store_key, machine_id, org_id, report, last_seen, source_ip, status)
		values ($1, $2, $3, $4, $5, $6, $7)
		on conflict (store_key) do update
		set report = excluded.report,
		    last_seen = excluded.last_seen,
		    source_ip = excluded.source_ip,
		    status = excluded.status
	`, e.StoreKey, e.MachineID, e.OrgID, report, e.LastSeen, e.SourceIP, e.Status)
	return err
}

func (f *FleetStore) DeleteOlderThan(ctx context.Context, storeKey string, cutoff time.Time) (bool, error) {
	res, err := f.db.ExecContext(ctx, `
		delete from fleet where store_key=$1 and last_seen < $2
	`, storeKey, cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (f *FleetStore) List(ctx context.Context) ([]fleet.Entry, error) {
	rows, err := f.db.QueryContext(ctx, `
		select store_key, machine_id, org_id, report, last_seen, source_ip, status
		from fleet
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []fleet.Entry
	for rows.Next() {
		var e fleet.Entry
		var report []byte
		if err := rows.Scan(&e.StoreKey, &e.MachineID, &e.OrgID, &report, &e.LastSeen, &e.SourceIP, &e.Status); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(report, &e.Report); err != nil {
			return nil, fmt.Errorf("decode report for %s: %w", e.StoreKey, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
