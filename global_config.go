package edsim

import (
	"log"
	"os"
	"time"
)

// Portnumbers holds the network ports used by the simulator. The TCP and
// broadcast ports are fixed by the Ether Dream protocol.
type Portnumbers struct {
	Control       int // TCP command channel
	Broadcast     int // UDP destination of discovery datagrams
	BroadcastFrom int // UDP port the announcer sends from
	Status        int // ZMQ PUB status updates
	RPC           int // JSON-RPC control
}

// Ports globally holds the default port numbers.
var Ports = Portnumbers{
	Control:       7765,
	Broadcast:     7654,
	BroadcastFrom: 7655,
	Status:        7766,
	RPC:           7767,
}

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.3.0",
	Githash: "no git hash computed",
	Gitdate: "no git date computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log connection and lifecycle events to a file
var UpdateLogger *log.Logger

func init() {
	StartTime = time.Now()

	// The edsim main program will override these, but at least initialize with sensible values
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stdout, "", log.LstdFlags)
}
