package edsim

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest simulator state on a ZMQ PUB socket.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	Tag   string
	State interface{}
}

// RunClientUpdater forwards every message from its input channel to a ZMQ PUB
// socket bound on portstatus, as a two-frame message: tag, then JSON body.
// It returns when messages is closed or abort is closed.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return fmt.Errorf("could not create status socket: %w", err)
	}
	defer pubSocket.Close()
	if err := pubSocket.SetLinger(0); err != nil {
		return fmt.Errorf("could not configure status socket: %w", err)
	}
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	if err := pubSocket.Bind(hostname); err != nil {
		return fmt.Errorf("could not bind status socket to %s: %w", hostname, err)
	}

	for {
		select {
		case <-abort:
			return nil
		case update, ok := <-messages:
			if !ok {
				return nil
			}
			message, err := json.Marshal(update.State)
			if err != nil {
				ProblemLogger.Printf("could not marshal %s update: %v", update.Tag, err)
				continue
			}
			if _, err := pubSocket.SendMessage(update.Tag, message); err != nil {
				ProblemLogger.Printf("could not publish %s update: %v", update.Tag, err)
			}
		}
	}
}
