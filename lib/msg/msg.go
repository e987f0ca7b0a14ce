// Package msg defines the interface for the message brokers that receive publish notifications.
//
package msg

import (
	"github.com/tarancss/prvd/lib/types"
)

// Exchange is the broker exchange publish notifications are sent to.
const Exchange = "mb"

// RoutingKey returns the routing key of a notification for subject.
func RoutingKey(subject string) string {
	return "publish." + subject
}

// Notifier is implemented by message brokers able to broadcast accepted publishes.
type Notifier interface {
	Setup(interface{}) error
	Close() error

	// Notify broadcasts an accepted publish.
	Notify(p types.Published) error
	// Notifications consumes the publishes broadcast for subjects matching the binding key pattern.
	Notifications(queue, pattern string) (<-chan types.Published, <-chan error, error)
}
