// Package sessiondb records simulator runs and client sessions in a
// ClickHouse database.
package sessiondb

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

// Connection is a possibly-disconnected link to the database. Every Record
// method is a no-op when the connection could not be established, so callers
// need not check.
type Connection struct {
	conn       clickhouse.Conn
	err        error // set only before Start returns
	activity   *ActivityMessage
	sessionmsg chan *SessionMessage
	abort      <-chan struct{}
	sync.WaitGroup

	mu        sync.Mutex
	insertErr error // first insert failure seen by the handler
}

const databaseName = "edsim" // official SQL name of the database

// timeLayout is how DateTime64(6) columns are written.
const timeLayout = "2006-01-02 15:04:05.000000"

// NewActivity describes the current process as an activity row.
func NewActivity(version, githash string) *ActivityMessage {
	hostname, _ := os.Hostname()
	return &ActivityMessage{
		ID:        ulid.Make().String(),
		Hostname:  hostname,
		Githash:   githash,
		Version:   version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     time.Now(),
	}
}

// IsConnected reports whether the database can be written to.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Err returns the error that disconnected db, if any.
func (db *Connection) Err() error {
	if db == nil {
		return nil
	}
	return db.err
}

// InsertErr returns the first error raised while inserting rows after
// Start. Once set, no further rows are inserted.
func (db *Connection) InsertErr() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.insertErr
}

func (db *Connection) setInsertErr(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.insertErr == nil {
		db.insertErr = err
	}
}

// Start connects to the ClickHouse server at addr, records the activity and
// handles session messages until abort is closed. A failed connection is
// logged by the caller through Err; the returned value is always usable.
func Start(addr string, activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := connect(addr)
	db.activity = activity
	db.abort = abort
	if !db.IsConnected() {
		return db
	}
	if err := db.logActivity(); err != nil {
		db.err = err
		db.conn.Close()
		return db
	}
	db.Add(1)
	go db.handleConnection()
	return db
}

func connect(addr string) *Connection {
	db := &Connection{}
	opt := clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("EDSIM_DB_USER"),
			Password: os.Getenv("EDSIM_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "edsim", Version: "unknown"},
			},
		},
		DialTimeout: 2 * time.Second,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = fmt.Errorf("could not open database: %w", err)
		return db
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			err = fmt.Errorf("exception [%d] %s", exception.Code, exception.Message)
		}
		db.err = fmt.Errorf("could not ping database at %s: %w", addr, err)
		conn.Close()
		return db
	}
	db.conn = conn
	db.sessionmsg = make(chan *SessionMessage)
	return db
}

func (db *Connection) logActivity() error {
	const nowait = false
	a := db.activity
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO activity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(timeLayout), a.End.Format(timeLayout),
	); err != nil {
		return fmt.Errorf("could not insert into activity: %w", err)
	}
	return nil
}

func (db *Connection) handleConnection() {
	defer db.Done()
	for {
		select {
		case <-db.abort:
			db.disconnect()
			return
		case m := <-db.sessionmsg:
			db.handleSessionMessage(m)
		}
	}
}

func (db *Connection) disconnect() {
	if db.InsertErr() == nil {
		db.activity.End = time.Now()
		if err := db.logActivity(); err != nil {
			db.setInsertErr(err)
		}
	}
	db.conn.Close()
}

// RecordSession stores m in the database without blocking the caller.
func (db *Connection) RecordSession(m *SessionMessage) {
	if !db.IsConnected() || m == nil {
		return
	}
	m.ActivityID = db.activity.ID
	go db.send(m)
}

// send hands m to the handler, giving up if the connection is aborted first.
func (db *Connection) send(m *SessionMessage) {
	select {
	case db.sessionmsg <- m:
	case <-db.abort:
	}
}

func (db *Connection) handleSessionMessage(m *SessionMessage) {
	if db.InsertErr() != nil {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.Remote, m.FinalState, m.PointCount,
		m.Commands, m.PointsReceived, m.PointsDropped, m.NAKs, m.Error,
		m.Start.Format(timeLayout), m.End.Format(timeLayout),
	); err != nil {
		db.setInsertErr(fmt.Errorf("could not insert into sessions: %w", err))
	}
}
