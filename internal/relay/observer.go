package relay

// RelayedMessage describes one dispatched chat message.
type RelayedMessage struct {
	Kind      MessageKind
	From      string
	To        string
	Body      string
	Delivered int
}

// Observer receives relay events after the corresponding state change has
// committed. Methods are called from relay goroutines and must not block;
// implementations own any thread affinity of their own.
type Observer interface {
	SessionJoined(info SessionInfo)
	SessionLeft(info SessionInfo, reason DisconnectReason)
	MessageRelayed(msg RelayedMessage)
	DeliveryFailed(info SessionInfo, err error)
}

// NopObserver ignores every event. Embed it to implement a subset of Observer.
type NopObserver struct{}

func (NopObserver) SessionJoined(SessionInfo)                 {}
func (NopObserver) SessionLeft(SessionInfo, DisconnectReason) {}
func (NopObserver) MessageRelayed(RelayedMessage)             {}
func (NopObserver) DeliveryFailed(SessionInfo, error)         {}

// observers fans events out in registration order.
type observers []Observer

func (o observers) SessionJoined(info SessionInfo) {
	for _, obs := range o {
		obs.SessionJoined(info)
	}
}

func (o observers) SessionLeft(info SessionInfo, reason DisconnectReason) {
	for _, obs := range o {
		obs.SessionLeft(info, reason)
	}
}

func (o observers) MessageRelayed(msg RelayedMessage) {
	for _, obs := range o {
		obs.MessageRelayed(msg)
	}
}

func (o observers) DeliveryFailed(info SessionInfo, err error) {
	for _, obs := range o {
		obs.DeliveryFailed(info, err)
	}
}
