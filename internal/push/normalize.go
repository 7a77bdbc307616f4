package push

// Route says how a push reached this client. It decides the source label
// and whether the push is delivered at all.
type Route int

const (
	// RouteOtherDevice: addressed to a different device. Never delivered.
	RouteOtherDevice Route = iota
	// RouteChannel: published on a subscribed channel.
	RouteChannel
	// RouteOwnDevice: addressed to this device. Delivered with no source.
	RouteOwnDevice
	// RouteAllDevices: no target device, broadcast to every device.
	RouteAllDevices
)

func (r Route) String() string {
	switch r {
	case RouteChannel:
		return "channel"
	case RouteOwnDevice:
		return "own_device"
	case RouteAllDevices:
		return "all_devices"
	default:
		return "other_device"
	}
}

const (
	unknownSender   = "Unknown Sender"
	allDevicesLabel = "All Devices"
	emptyContent    = "No message"
)

// Classify applies the routing rules in order; the first match wins.
func Classify(raw RawPush, ownDeviceID string) Route {
	switch {
	case raw.ChannelIden != "":
		return RouteChannel
	case raw.TargetDeviceIden != nil && *raw.TargetDeviceIden == ownDeviceID:
		return RouteOwnDevice
	case raw.TargetDeviceIden == nil:
		return RouteAllDevices
	default:
		return RouteOtherDevice
	}
}

// Normalize converts raw into an Event. It reports false when the push must
// be skipped: addressed to another device, or (fetch only) inactive.
func Normalize(raw RawPush, ownDeviceID string, origin Origin) (Event, bool) {
	if origin == OriginFetch && !raw.IsActive() {
		return Event{}, false
	}

	route := Classify(raw, ownDeviceID)
	var source string
	switch route {
	case RouteChannel:
		sender := raw.SenderName
		if sender == "" {
			sender = unknownSender
		}
		// The two channels label channel pushes differently.
		if origin == OriginFetch {
			source = "Channel: " + sender
		} else {
			source = sender + ": \n" + raw.Title
		}
	case RouteOwnDevice:
		source = ""
	case RouteAllDevices:
		source = allDevicesLabel
	default:
		return Event{}, false
	}

	return Event{
		ID:        EventID(raw),
		Content:   content(raw),
		CreatedAt: raw.Created,
		Source:    source,
		Origin:    origin,
		Route:     route,
	}, true
}

// EventID is the stable identity used by the at-most-once gate. Pushes
// without an iden fall back to their creation time.
func EventID(raw RawPush) string {
	if raw.Iden != "" {
		return raw.Iden
	}
	return "created:" + raw.Created.String()
}

func content(raw RawPush) string {
	for _, s := range []string{raw.Body, raw.URL, raw.FileURL} {
		if s != "" {
			return s
		}
	}
	return emptyContent
}
