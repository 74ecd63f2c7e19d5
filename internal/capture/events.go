package capture

import (
	evbus "github.com/asaskevich/EventBus"
)

// TopicImageInserted is published whenever an image node lands on a tracked
// surface. Surface adapters publish; the Engine subscribes. A test harness
// can publish synthetic insertions without a real rendering surface.
const TopicImageInserted = "capture:image_inserted"

// InsertionEvent describes one image insertion.
type InsertionEvent struct {
	Surface Surface
	Node    Node
}

// Bus is the insertion event stream shared by surface adapters and the Engine.
type Bus struct {
	bus evbus.Bus
}

func NewBus() *Bus {
	return &Bus{bus: evbus.New()}
}

// PublishInsertion emits an insertion event synchronously.
func (b *Bus) PublishInsertion(ev InsertionEvent) {
	b.bus.Publish(TopicImageInserted, ev)
}

// SubscribeInsertion registers a handler for insertion events.
func (b *Bus) SubscribeInsertion(fn func(InsertionEvent)) error {
	return b.bus.Subscribe(TopicImageInserted, fn)
}

// UnsubscribeInsertion removes a previously registered handler.
func (b *Bus) UnsubscribeInsertion(fn func(InsertionEvent)) error {
	return b.bus.Unsubscribe(TopicImageInserted, fn)
}
