// Copyright (C) 2017 ScyllaDB

package nodeclient

import "fmt"

// Kind is the normalized kind of a repair notification.
type Kind int

// Kind enumeration.
const (
	// Invalid marks a notification that could not be interpreted.
	Invalid Kind = iota
	// Started is informational, the job is running.
	Started
	// Succeeded means the job repaired its ranges.
	Succeeded
	// Ended means the job is over, a job that ends without succeeding failed.
	Ended
	// Progress is informational and carries no state change.
	Progress
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Succeeded:
		return "succeeded"
	case Ended:
		return "ended"
	case Progress:
		return "progress"
	default:
		return "invalid"
	}
}

// Notification is a repair notification independent of node version.
type Notification struct {
	CommandID int32
	Kind      Kind
	// Failed is set when the node explicitly reported an error.
	Failed  bool
	Message string
	Host    string
}

func (n Notification) String() string {
	return fmt.Sprintf("command %d %s: %s", n.CommandID, n.Kind, n.Message)
}

// NewStatusAdapter returns RawStatusHandler that normalizes notifications
// of both vocabularies and passes them to f.
func NewStatusAdapter(f func(n Notification)) RawStatusHandler {
	return func(commandID int32, legacy *LegacyStatus, modern *ProgressEventType, message string, c Client) {
		n := Normalize(commandID, legacy, modern, message)
		if c != nil {
			n.Host = c.Host()
		}
		f(n)
	}
}

// Normalize converts a raw notification to Notification. Notifications with
// both or none of the statuses, or with unknown status, are Invalid.
func Normalize(commandID int32, legacy *LegacyStatus, modern *ProgressEventType, message string) Notification {
	n := Notification{
		CommandID: commandID,
		Message:   message,
	}

	switch {
	case legacy != nil && modern == nil:
		switch *legacy {
		case LegacyStarted:
			n.Kind = Started
		case LegacySessionSuccess:
			n.Kind = Succeeded
		case LegacySessionFailed:
			n.Kind = Ended
			n.Failed = true
		case LegacyFinished:
			n.Kind = Ended
		}
	case modern != nil && legacy == nil:
		switch *modern {
		case ProgressStart:
			n.Kind = Started
		case ProgressSuccess:
			n.Kind = Succeeded
		case ProgressError, ProgressAbort:
			n.Kind = Ended
			n.Failed = true
		case ProgressComplete:
			n.Kind = Ended
		case ProgressProgress, ProgressNotification:
			n.Kind = Progress
		}
	}

	return n
}
