package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/site-scraper/internal/scrape"
)

// Event is one message published on a channel.
type Event struct {
	// Channel scopes delivery, e.g. "job-<id>".
	Channel string
	// Name is the event type, e.g. "job-update".
	Name string
	// Payload is marshalled to JSON by sinks that leave the process.
	Payload any
	// TS is the UTC time the event was accepted by the hub.
	TS time.Time
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.Channel == "" {
		return errors.New("channel is required")
	}
	if e.Name == "" {
		return errors.New("event name is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}

// Envelope is the wire form shared by the Redis, Pub/Sub and websocket sinks.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	TS      time.Time       `json:"ts"`
}

// Marshal encodes the event as a JSON Envelope.
func (e Event) Marshal() ([]byte, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Name, err)
	}
	out, err := json.Marshal(Envelope{Channel: e.Channel, Event: e.Name, Data: data, TS: e.TS})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return out, nil
}

// JobUpdate returns the payload as a job update when it is one.
func (e Event) JobUpdate() (scrape.JobUpdate, bool) {
	switch p := e.Payload.(type) {
	case scrape.JobUpdate:
		return p, true
	case *scrape.JobUpdate:
		if p != nil {
			return *p, true
		}
	}
	return scrape.JobUpdate{}, false
}
