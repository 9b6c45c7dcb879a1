package management

import (
	"context"
	"net/http"
	"net/url"
)

// EventClient retrieves recorded security events.
type EventClient struct {
	core
}

// List returns a page of events matching the filter. The service takes the
// filter as a POST body rather than query parameters.
func (c *EventClient) List(ctx context.Context, req ListEventsRequest) (*Events, error) {
	data, err := c.do(ctx, http.MethodPost, "events", nil, req)
	if err != nil {
		return nil, err
	}
	var events Events
	if err := decodeInto(&events, fragment(data, "events"), "events response"); err != nil {
		return nil, err
	}
	return &events, nil
}

// Get returns one event by id. expanded includes the related application,
// policy and connection.
func (c *EventClient) Get(ctx context.Context, eventID string, expanded bool) (*Event, error) {
	q := url.Values{}
	if expanded {
		q.Set("expanded", "true")
	}
	data, err := c.do(ctx, http.MethodGet, "events/"+eventID, q, nil)
	if err != nil {
		return nil, err
	}
	var event Event
	if err := decodeInto(&event, fragment(data, "event"), "event response"); err != nil {
		return nil, err
	}
	return &event, nil
}

// Conversation returns the recorded conversation of an event.
func (c *EventClient) Conversation(ctx context.Context, eventID string) (*EventConversation, error) {
	data, err := c.do(ctx, http.MethodGet, "events/"+eventID+"/conversation", nil, nil)
	if err != nil {
		return nil, err
	}
	conv := &EventConversation{}
	conv.EventConversationID, _ = data["event_conversation_id"].(string)
	if err := decodeInto(&conv.Messages, fragment(data, "messages"), "event messages response"); err != nil {
		return nil, err
	}
	return conv, nil
}
