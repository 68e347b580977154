// Package queue consumes storage upload events from a Redis list and
// feeds the parsed arrivals to the pipeline. Delivery is at-least-once:
// failed messages are re-queued with an attempt count and moved to a
// dead-letter list once the count is exhausted.
package queue

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"server/internal/pipeline"
)

// uploadPrefix is the fixed first segment of every intake object key.
const uploadPrefix = "uploads"

// Message is the queue envelope wrapping one bucket notification.
// Attempts counts deliveries that already failed.
type Message struct {
	Attempts int             `json:"attempts"`
	Event    json.RawMessage `json:"event"`
}

// bucketEvent mirrors the object-created notification the store emits.
// Object keys arrive URL-encoded.
type bucketEvent struct {
	EventName string        `json:"EventName"`
	Records   []eventRecord `json:"Records"`
}

type eventRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// ParseMessage decodes the queue envelope.
func ParseMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, fmt.Errorf("queue: decode message: %w", err)
	}
	if len(msg.Event) == 0 {
		return Message{}, fmt.Errorf("queue: message carries no event")
	}
	return msg, nil
}

// ParseArrivals extracts one Arrival per record in the bucket event. A key
// that does not match uploads/{ownerId}/{jobId}/{fileName} is a hard
// error: such an event can never be serviced and retrying cannot fix it.
func ParseArrivals(event json.RawMessage) ([]pipeline.Arrival, error) {
	var evt bucketEvent
	if err := json.Unmarshal(event, &evt); err != nil {
		return nil, fmt.Errorf("queue: decode bucket event: %w", err)
	}
	if len(evt.Records) == 0 {
		return nil, fmt.Errorf("queue: bucket event carries no records")
	}
	arrivals := make([]pipeline.Arrival, 0, len(evt.Records))
	for _, record := range evt.Records {
		arrival, err := parseObjectKey(record.S3.Object.Key)
		if err != nil {
			return nil, err
		}
		arrivals = append(arrivals, arrival)
	}
	return arrivals, nil
}

func parseObjectKey(encoded string) (pipeline.Arrival, error) {
	key, err := url.QueryUnescape(encoded)
	if err != nil {
		return pipeline.Arrival{}, fmt.Errorf("queue: unescape object key %q: %w", encoded, err)
	}
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != uploadPrefix {
		return pipeline.Arrival{}, fmt.Errorf("queue: object key %q does not match %s/{ownerId}/{jobId}/{fileName}", key, uploadPrefix)
	}
	for _, part := range parts[1:] {
		if part == "" {
			return pipeline.Arrival{}, fmt.Errorf("queue: object key %q has an empty segment", key)
		}
	}
	return pipeline.Arrival{
		OwnerID:    parts[1],
		JobID:      parts[2],
		FileName:   parts[3],
		StorageKey: key,
	}, nil
}
