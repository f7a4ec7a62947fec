// Package ami speaks the Asterisk Manager Interface: a line-oriented
// "Key: Value" protocol where each message ends with a blank line.
package ami

import (
	"strconv"
)

// Event is one AMI message (event or response) as an ordered set of headers.
type Event struct {
	headers []header
}

type header struct {
	Key   string
	Value string
}

// NewEvent builds an Event from alternating keys and values.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the first value for key, or "".
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// Type returns the Event header value.
func (e Event) Type() string {
	return e.Get("Event")
}

func (e Event) ActionID() string {
	return e.Get("ActionID")
}

// GetInt returns 0 when the key is missing or not numeric.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// IsResponse is true for replies to an action. OriginateResponse carries a
// Response header too but is an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != "" && e.Get("Event") == ""
}

// Success reports Response: Success.
func (e Event) Success() bool {
	return e.Get("Response") == "Success"
}

func (e Event) Len() int { return len(e.headers) }
