package push

import (
	"testing"
)

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func TestClassifyAndNormalize(t *testing.T) {
	t.Parallel()
	const own = "D1"
	tests := []struct {
		name   string
		raw    RawPush
		origin Origin
		route  Route
		ok     bool
		source string
	}{
		{
			name:   "own device",
			raw:    RawPush{Iden: "a", Created: 1, TargetDeviceIden: strp("D1"), Body: "hi"},
			origin: OriginStream, route: RouteOwnDevice, ok: true, source: "",
		},
		{
			name:   "other device",
			raw:    RawPush{Iden: "a", Created: 1, TargetDeviceIden: strp("D2"), Body: "hi"},
			origin: OriginStream, route: RouteOtherDevice, ok: false,
		},
		{
			name:   "empty target is another device",
			raw:    RawPush{Iden: "a", Created: 1, TargetDeviceIden: strp(""), Body: "hi"},
			origin: OriginFetch, route: RouteOtherDevice, ok: false,
		},
		{
			name:   "all devices",
			raw:    RawPush{Iden: "a", Created: 1, Body: "hi"},
			origin: OriginStream, route: RouteAllDevices, ok: true, source: "All Devices",
		},
		{
			name:   "channel on stream",
			raw:    RawPush{Iden: "a", Created: 1, ChannelIden: "c1", SenderName: "News", Title: "Headline", TargetDeviceIden: strp("D2")},
			origin: OriginStream, route: RouteChannel, ok: true, source: "News: \nHeadline",
		},
		{
			name:   "channel on fetch",
			raw:    RawPush{Iden: "a", Created: 1, ChannelIden: "c1", SenderName: "News", Title: "Headline"},
			origin: OriginFetch, route: RouteChannel, ok: true, source: "Channel: News",
		},
		{
			name:   "channel without sender",
			raw:    RawPush{Iden: "a", Created: 1, ChannelIden: "c1"},
			origin: OriginFetch, route: RouteChannel, ok: true, source: "Channel: Unknown Sender",
		},
		{
			name:   "inactive on fetch",
			raw:    RawPush{Iden: "a", Created: 1, Active: boolp(false), Body: "gone"},
			origin: OriginFetch, route: RouteAllDevices, ok: false,
		},
		{
			name:   "inactive on stream is still delivered",
			raw:    RawPush{Iden: "a", Created: 1, Active: boolp(false), Body: "gone"},
			origin: OriginStream, route: RouteAllDevices, ok: true, source: "All Devices",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.raw, own); got != tt.route {
				t.Fatalf("Classify = %v, want %v", got, tt.route)
			}
			ev, ok := Normalize(tt.raw, own, tt.origin)
			if ok != tt.ok {
				t.Fatalf("Normalize ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.Source != tt.source {
				t.Fatalf("Source = %q, want %q", ev.Source, tt.source)
			}
			if ev.Origin != tt.origin || ev.Route != tt.route {
				t.Fatalf("Origin/Route = %v/%v", ev.Origin, ev.Route)
			}
		})
	}
}

func TestNormalizeContentFallback(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  RawPush
		want string
	}{
		{RawPush{Body: "b", URL: "u", FileURL: "f"}, "b"},
		{RawPush{URL: "u", FileURL: "f"}, "u"},
		{RawPush{FileURL: "f"}, "f"},
		{RawPush{}, "No message"},
	}
	for _, tt := range tests {
		ev, ok := Normalize(tt.raw, "D1", OriginStream)
		if !ok {
			t.Fatalf("Normalize(%+v) skipped", tt.raw)
		}
		if ev.Content != tt.want {
			t.Fatalf("Content = %q, want %q", ev.Content, tt.want)
		}
	}
}

func TestEventIDFallsBackToCreated(t *testing.T) {
	t.Parallel()
	if got := EventID(RawPush{Iden: "abc", Created: 5}); got != "abc" {
		t.Fatalf("EventID = %q", got)
	}
	if got := EventID(RawPush{Created: 1700000000.25}); got != "created:1700000000.25" {
		t.Fatalf("EventID = %q", got)
	}
}

func TestEventTitle(t *testing.T) {
	t.Parallel()
	if got := (Event{}).Title(); got != "Pushbullet" {
		t.Fatalf("Title = %q", got)
	}
	if got := (Event{Source: "All Devices"}).Title(); got != "Pushbullet [All Devices]" {
		t.Fatalf("Title = %q", got)
	}
}

func TestParseMessage(t *testing.T) {
	t.Parallel()
	m, err := ParseMessage([]byte(`{"type":"tickle","subtype":"push"}`))
	if err != nil || !m.IsPushTickle() {
		t.Fatalf("tickle = %+v, %v", m, err)
	}

	m, err = ParseMessage([]byte(`{"type":"push","push":{"iden":"abc","created":100,"body":"hello","target_device_iden":null}}`))
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Type != MessagePush || m.Push == nil || m.Push.Iden != "abc" || m.Push.Created != 100 {
		t.Fatalf("push message = %+v", m)
	}
	if m.Push.TargetDeviceIden != nil {
		t.Fatal("null target_device_iden should decode as nil")
	}

	if _, err := ParseMessage([]byte(`{"type":`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestTimestampTime(t *testing.T) {
	t.Parallel()
	ts := Timestamp(1700000000.5)
	got := ts.Time().UTC()
	if got.Unix() != 1700000000 || got.Nanosecond() != 500000000 {
		t.Fatalf("Time = %v", got)
	}
	if ts.String() != "1700000000.5" {
		t.Fatalf("String = %q", ts.String())
	}
}
