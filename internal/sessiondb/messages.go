package sessiondb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the activity table: one row per
// simulator run, written at startup and again at shutdown.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// SessionMessage is the information required to make an entry in the
// sessions table.
type SessionMessage struct {
	ID             string
	ActivityID     string
	Remote         string
	FinalState     string
	PointCount     uint32
	Commands       int
	PointsReceived int
	PointsDropped  int
	NAKs           int
	Error          string
	Start          time.Time
	End            time.Time
}
