package store

import "context"

// Times are stored as unix milliseconds so both engines compare them numerically.
const schema = `
CREATE TABLE IF NOT EXISTS notification_jobs (
	id           TEXT PRIMARY KEY,
	audience     TEXT NOT NULL,
	message      TEXT NOT NULL,
	scheduled_at BIGINT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	category     TEXT NOT NULL DEFAULT '',
	target_date  TEXT NOT NULL DEFAULT '',
	target_time  TEXT NOT NULL DEFAULT '',
	group_ref    TEXT NOT NULL DEFAULT '',
	is_broadcast BOOLEAN NOT NULL DEFAULT FALSE,
	sent_at      BIGINT,
	error_detail TEXT NOT NULL DEFAULT '',
	created_at   BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notification_jobs_due ON notification_jobs (status, scheduled_at);
CREATE INDEX IF NOT EXISTS idx_notification_jobs_group ON notification_jobs (group_ref);
CREATE INDEX IF NOT EXISTS idx_notification_jobs_category ON notification_jobs (category, status);

CREATE TABLE IF NOT EXISTS leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at BIGINT NOT NULL
);
`

// Migrate creates the tables when missing.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, schema)
	return err
}
