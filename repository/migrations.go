package repository

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS transitions (
	id         BYTEA PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS states (
	id            BIGSERIAL PRIMARY KEY,
	transition_id BYTEA NOT NULL REFERENCES transitions (id),
	output_index  INTEGER NOT NULL,
	kind          SMALLINT NOT NULL,
	linear_id     UUID NOT NULL,
	contractor    TEXT NOT NULL,
	company       TEXT NOT NULL,
	issue_date    DATE,
	hours_worked  BIGINT,
	paid          BOOLEAN NOT NULL DEFAULT FALSE,
	data          BYTEA NOT NULL,
	consumed      BOOLEAN NOT NULL DEFAULT FALSE,
	UNIQUE (transition_id, output_index)
);

CREATE INDEX IF NOT EXISTS states_linear_id_idx ON states (linear_id);
CREATE INDEX IF NOT EXISTS states_unconsumed_idx ON states (kind) WHERE NOT consumed;

CREATE OR REPLACE FUNCTION notify_recorded() RETURNS TRIGGER AS $$
BEGIN
	PERFORM pg_notify('events', json_build_object(
		'table', TG_TABLE_NAME,
		'action', TG_OP,
		'data', json_build_object('id', encode(NEW.id, 'hex'), 'created_at', NEW.created_at)
	)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS transitions_recorded ON transitions;
CREATE TRIGGER transitions_recorded AFTER INSERT ON transitions
	FOR EACH ROW EXECUTE PROCEDURE notify_recorded();
`

// RunMigration creates the vault schema and the notification trigger if they are missing.
func (db DataBase) RunMigration(ctx context.Context) error {
	_, err := db.inner.ExecContext(ctx, schema)
	return err
}
