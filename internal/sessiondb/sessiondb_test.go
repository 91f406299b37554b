package sessiondb

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewActivity(t *testing.T) {
	a := NewActivity("1.2.3", "abcdef")
	assert.Len(t, a.ID, 26)
	assert.Equal(t, "1.2.3", a.Version)
	assert.Equal(t, "abcdef", a.Githash)
	assert.Equal(t, runtime.Version(), a.GoVersion)
	assert.False(t, a.Start.IsZero())
	assert.True(t, a.End.IsZero())

	b := NewActivity("1.2.3", "abcdef")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNilAndDisconnected(t *testing.T) {
	var db *Connection
	assert.False(t, db.IsConnected())
	assert.NoError(t, db.Err())

	db = &Connection{}
	assert.False(t, db.IsConnected())
	// Must not panic or block.
	db.RecordSession(&SessionMessage{ID: "x"})
	db.RecordSession(nil)
}

func TestStartWithoutServer(t *testing.T) {
	abort := make(chan struct{})
	defer close(abort)
	// Nothing listens on port 1, so the ping fails.
	db := Start("127.0.0.1:1", NewActivity("test", ""), abort)
	assert.False(t, db.IsConnected())
	assert.Error(t, db.Err())
	db.RecordSession(&SessionMessage{ID: "ignored"})
	db.Wait()
}

func TestSendGivesUpAfterAbort(t *testing.T) {
	abort := make(chan struct{})
	// Nobody receives on sessionmsg, as after the handler has returned.
	db := &Connection{sessionmsg: make(chan *SessionMessage), abort: abort}
	done := make(chan struct{})
	go func() {
		db.send(&SessionMessage{ID: "late"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("send returned before the message was taken or abort closed")
	case <-time.After(50 * time.Millisecond):
	}
	close(abort)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("send still blocked after abort")
	}
}

func TestInsertErrKeepsFirstFailure(t *testing.T) {
	db := &Connection{}
	assert.NoError(t, db.InsertErr())

	first := errors.New("first")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		db.setInsertErr(first)
		db.setInsertErr(errors.New("second"))
	}()
	for i := 0; i < 100; i++ {
		db.IsConnected()
		db.InsertErr()
	}
	wg.Wait()
	assert.Equal(t, first, db.InsertErr())
	assert.NoError(t, db.Err(), "insert failures do not change Err")

	var nilDB *Connection
	assert.NoError(t, nilDB.InsertErr())
}
