package discovery

import "context"

// Service is the managed discoverable service. Both calls must be idempotent:
// calling Start on a running service or Stop on a stopped one is a no-op.
type Service interface {
	Start() error
	Stop() error
}

// Subscription is the handle returned by every Subscribe call.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain function to Subscription.
type SubscriptionFunc func()

// Unsubscribe calls f.
func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}

// PreferenceStore is the part of a preference backend the controller needs.
type PreferenceStore interface {
	GetBool(ctx context.Context, name string) (bool, error)
	Subscribe(name string, fn func(value bool)) (Subscription, error)
}

// OnlineStatus is the payload of an offline-status-changed event.
type OnlineStatus string

const (
	StatusOffline OnlineStatus = "offline"
	StatusOnline  OnlineStatus = "online"
)

// IsOffline reports whether s means "offline". Any other value counts as online.
func (s OnlineStatus) IsOffline() bool { return s == StatusOffline }

// NetworkSource pushes connectivity events. Each source delivers its events in
// the order they occurred.
type NetworkSource interface {
	SubscribeActiveInterface(fn func(present bool)) (Subscription, error)
	SubscribeOfflineStatus(fn func(status OnlineStatus)) (Subscription, error)
}

// NetworkState is the last known connectivity of the host.
type NetworkState struct {
	HasActiveInterface bool   `json:"has_active_interface"`
	Offline            bool   `json:"offline"`
	Interface          string `json:"interface,omitempty"`
}

// NetworkStateReporter is implemented by sources that can be queried for their
// last known state. ok is false while the state is still unknown.
type NetworkStateReporter interface {
	NetworkState() (state NetworkState, ok bool)
}

// Recorder receives controller observations (metrics).
type Recorder interface {
	ObserveEvent(source string)
	ObserveTransition(action Action, err error)
	SetDesired(running bool)
	SetObserved(state RunState)
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvent(string)             {}
func (nopRecorder) ObserveTransition(Action, error) {}
func (nopRecorder) SetDesired(bool)                 {}
func (nopRecorder) SetObserved(RunState)            {}
