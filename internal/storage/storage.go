package storage

import "priceScope/internal/model"

// EventSink is a destination for decoded events.
type EventSink interface {
	PutEventBatch(events []model.DecodedEvent) error
}

// EventPurger is implemented by sinks that can discard already written
// events when a chain reorganisation invalidates them.
type EventPurger interface {
	PurgeEventsFrom(block uint64) error
}
