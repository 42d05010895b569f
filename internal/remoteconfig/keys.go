package remoteconfig

import (
	"fmt"
	"strings"
)

// Keys names the two documents and their invalidation channels for one
// device.
type Keys struct {
	Fleet         string
	Device        string
	FleetChannel  string
	DeviceChannel string
}

func NewKeys(namespace, productID, deviceID string) Keys {
	ns := firstNonEmpty(namespace, "config")
	return Keys{
		Fleet:         fmt.Sprintf("%s:fleet:%s", ns, productID),
		Device:        fmt.Sprintf("%s:device:%s", ns, deviceID),
		FleetChannel:  fmt.Sprintf("%s:updates:fleet:%s", ns, productID),
		DeviceChannel: fmt.Sprintf("%s:updates:%s", ns, deviceID),
	}
}

func firstNonEmpty(s, def string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return def
}
