package pubsub

import "github.com/lacylights/lacylightsd/internal/dmxbuf"

// DMXMessage is the payload delivered on TopicDMXOutput.
type DMXMessage struct {
	UniverseKey string
	Data        []byte
}

// DMXNotifier adapts a PubSub instance to universe.ClientNotifier, letting
// every universe publish its merge result through one shared hub instead of
// holding subscriber state itself.
type DMXNotifier struct {
	ps *PubSub
}

// NewDMXNotifier wraps ps for use as a universe.ClientNotifier.
func NewDMXNotifier(ps *PubSub) *DMXNotifier {
	return &DMXNotifier{ps: ps}
}

// NotifyDMX implements universe.ClientNotifier.
func (n *DMXNotifier) NotifyDMX(universeKey string, data dmxbuf.Buffer) {
	n.ps.Publish(TopicDMXOutput, universeKey, DMXMessage{
		UniverseKey: universeKey,
		Data:        data.Get(),
	})
}
