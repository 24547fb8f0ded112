package inmemdb

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/chama/core"
	"github.com/trezcool/chama/core/booking"
	"github.com/trezcool/chama/core/schedule"
)

// DB is the shared in-memory store backing this package's repositories.
// It stands in for Postgres in service and API tests.
type DB struct {
	mutex sync.RWMutex

	templates           map[string]*schedule.Template
	instances           map[string]*schedule.Instance
	standingInvitations map[string][]schedule.StandingInvitation // by template ID
	instanceInvitations map[string][]schedule.InstanceInvitation // by instance ID

	subscriptions map[string]*booking.Subscription
	usage         map[string]booking.QuotaUsage // by subscriptionID + "|" + instanceID
	rsvps         map[string]booking.Rsvp       // by personID + "|" + instanceID
}

var _ core.Transactor = (*DB)(nil)

func NewDB() *DB {
	return &DB{
		templates:           make(map[string]*schedule.Template),
		instances:           make(map[string]*schedule.Instance),
		standingInvitations: make(map[string][]schedule.StandingInvitation),
		instanceInvitations: make(map[string][]schedule.InstanceInvitation),
		subscriptions:       make(map[string]*booking.Subscription),
		usage:               make(map[string]booking.QuotaUsage),
		rsvps:               make(map[string]booking.Rsvp),
	}
}

// Begin returns a no-op transactor; repositories here apply writes directly
// under the store mutex.
func (db *DB) Begin() (core.DBTransactor, error) {
	return noopTx{}, nil
}

type noopTx struct{}

var errNoSQL = errors.New("inmemdb: raw SQL is not supported")

func (noopTx) Commit() error   { return nil }
func (noopTx) Rollback() error { return nil }

func (noopTx) Exec(string, ...interface{}) (sql.Result, error) { return nil, errNoSQL }
func (noopTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, errNoSQL
}
func (noopTx) Query(string, ...interface{}) (*sql.Rows, error) { return nil, errNoSQL }
func (noopTx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, errNoSQL
}
func (noopTx) QueryRow(string, ...interface{}) *sql.Row                           { return nil }
func (noopTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row   { return nil }

func key(a, b string) string { return a + "|" + b }
