// Package postgres implements the interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tarancss/fabbank/lib/block/types"
	"github.com/tarancss/fabbank/lib/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS deployments (
	name      TEXT PRIMARY KEY,
	reference TEXT NOT NULL,
	fcn       TEXT NOT NULL,
	args      TEXT[] NOT NULL DEFAULT '{}',
	admin     TEXT NOT NULL,
	ts        BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS txs (
	id       TEXT PRIMARY KEY,
	contract TEXT NOT NULL,
	fcn      TEXT NOT NULL,
	args     TEXT[] NOT NULL DEFAULT '{}',
	status   TEXT NOT NULL,
	result   TEXT NOT NULL DEFAULT '',
	error    TEXT NOT NULL DEFAULT '',
	ts       BIGINT NOT NULL
);`

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the tables if
// they do not exist.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("cannot create tables: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// SaveDeployment upserts the deployment of a chaincode, keyed by chaincode name.
func (p *Postgres) SaveDeployment(d store.Deployment) error {
	_, err := p.db.Exec(`INSERT INTO deployments (name, reference, fcn, args, admin, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET reference = $2, fcn = $3, args = $4, admin = $5, ts = $6`,
		d.Name, d.Reference, d.Function, textArray(d.Args), d.Admin, d.TS)
	if err != nil {
		return fmt.Errorf("could not save deployment in db: %w", err)
	}

	return nil
}

// LoadDeployment returns the last deployment saved for the chaincode name.
func (p *Postgres) LoadDeployment(name string) (d store.Deployment, err error) {
	err = p.db.QueryRow(`SELECT name, reference, fcn, args, admin, ts FROM deployments WHERE name = $1`, name).
		Scan(&d.Name, &d.Reference, &d.Function, pq.Array(&d.Args), &d.Admin, &d.TS)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrDataNotFound
	}

	return
}

// AddTx saves a transaction event. Events already saved are ignored.
func (p *Postgres) AddTx(e types.Event) error {
	_, err := p.db.Exec(`INSERT INTO txs (id, contract, fcn, args, status, result, error, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Contract, e.Function, textArray(e.Args), e.Status, e.Result, e.Error, e.TS)
	if err != nil {
		return fmt.Errorf("could not insert transaction in db: %w", err)
	}

	return nil
}

// GetTxs returns the transaction events for the chaincode functions in fcn, all of them if fcn is empty, sorted
// by time.
func (p *Postgres) GetTxs(fcn []string) ([]types.Event, error) {
	q := `SELECT id, contract, fcn, args, status, result, error, ts FROM txs`
	args := []interface{}{}

	if len(fcn) > 0 {
		q += ` WHERE fcn = ANY($1)`

		args = append(args, pq.Array(fcn))
	}

	rows, err := p.db.Query(q+` ORDER BY ts`, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying transactions: %w", err)
	}
	defer rows.Close()

	evs := []types.Event{}

	for rows.Next() {
		var e types.Event
		if err = rows.Scan(&e.ID, &e.Contract, &e.Function, pq.Array(&e.Args), &e.Status, &e.Result, &e.Error,
			&e.TS); err != nil {
			return nil, fmt.Errorf("error reading transaction: %w", err)
		}

		evs = append(evs, e)
	}

	return evs, rows.Err()
}

// textArray writes a nil slice as an empty array, args columns are not nullable.
func textArray(a []string) driver.Valuer {
	if a == nil {
		a = []string{}
	}

	return pq.StringArray(a)
}
