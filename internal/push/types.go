// Package push turns raw pushes from either delivery channel (the live
// stream or the REST catch-up fetch) into canonical events, and gates
// them so each one reaches the sink at most once.
package push

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Timestamp is a server creation time in fractional Unix seconds, exactly
// as the API reports it. It doubles as the watermark unit.
type Timestamp float64

func (t Timestamp) Time() time.Time {
	sec, frac := math.Modf(float64(t))
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

func (t Timestamp) String() string { return strconv.FormatFloat(float64(t), 'f', -1, 64) }

func (t Timestamp) IsZero() bool { return t == 0 }

type Origin string

const (
	OriginStream Origin = "stream"
	OriginFetch  Origin = "fetch"
)

// RawPush is a push object as the service encodes it. Only the fields the
// client routes or renders on are decoded.
type RawPush struct {
	Iden             string    `json:"iden"`
	Created          Timestamp `json:"created"`
	Modified         Timestamp `json:"modified,omitempty"`
	Active           *bool     `json:"active,omitempty"`
	Dismissed        bool      `json:"dismissed,omitempty"`
	Type             string    `json:"type,omitempty"`
	TargetDeviceIden *string   `json:"target_device_iden,omitempty"`
	SourceDeviceIden string    `json:"source_device_iden,omitempty"`
	ChannelIden      string    `json:"channel_iden,omitempty"`
	SenderName       string    `json:"sender_name,omitempty"`
	Title            string    `json:"title,omitempty"`
	Body             string    `json:"body,omitempty"`
	URL              string    `json:"url,omitempty"`
	FileURL          string    `json:"file_url,omitempty"`
}

// IsActive treats a missing "active" field as true.
func (p RawPush) IsActive() bool { return p.Active == nil || *p.Active }

// Event is the canonical form handed to the sink.
type Event struct {
	ID        string
	Content   string
	CreatedAt Timestamp
	Source    string

	Origin Origin
	Route  Route
}

// Title is the desktop notification title for the event.
func (e Event) Title() string {
	if e.Source == "" {
		return "Pushbullet"
	}
	return "Pushbullet [" + e.Source + "]"
}

// Stream message types.
const (
	MessageNop    = "nop"
	MessageTickle = "tickle"
	MessagePush   = "push"
)

// Message is one JSON text frame from the stream.
type Message struct {
	Type    string   `json:"type"`
	Subtype string   `json:"subtype,omitempty"`
	Push    *RawPush `json:"push,omitempty"`
}

// IsPushTickle reports the server's "new pushes exist, go fetch" signal.
func (m Message) IsPushTickle() bool { return m.Type == MessageTickle && m.Subtype == "push" }

func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode stream message: %w", err)
	}
	return m, nil
}
