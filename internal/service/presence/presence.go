// Package presence corroborates a face match against the Bluetooth devices
// currently connected to the kiosk host.
package presence

import (
	"context"
	"strings"

	"github.com/zhouzirui/habitat-kiosk/backend/internal/model/user"
)

// UnknownAddress is reported for a connected device whose MAC could not be
// recovered. It never matches a user record.
const UnknownAddress = "N/A"

// Device is one connected device.
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Source lists the devices connected right now. Implementations must not cache
// across calls; every authentication round asks again.
type Source interface {
	ConnectedDevices(ctx context.Context) ([]Device, error)
}

// NormalizeAddress upper-cases a MAC and trims whitespace so that addresses
// from different tools compare equal.
func NormalizeAddress(addr string) string {
	return strings.ToUpper(strings.TrimSpace(addr))
}

// Verify returns the first user record, in list order, whose name equals
// candidate and whose device address is among devices. Duplicate names are
// not deduplicated.
func Verify(candidate string, users []user.User, devices []Device) (user.Identity, bool) {
	present := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		addr := NormalizeAddress(d.Address)
		if addr == "" || addr == UnknownAddress {
			continue
		}
		present[addr] = struct{}{}
	}

	for _, u := range users {
		if u.Name != candidate {
			continue
		}
		if _, ok := present[NormalizeAddress(u.DeviceAddress)]; ok {
			return user.Identity{UserID: u.ID, Name: u.Name, Role: u.Role}, true
		}
	}
	return user.Identity{}, false
}

// StaticSource always reports the same devices. It backs PRESENCE_SOURCE=static
// for demos and tests.
type StaticSource struct {
	Devices []Device
}

// ConnectedDevices returns a copy of the configured devices.
func (s StaticSource) ConnectedDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return append([]Device(nil), s.Devices...), nil
}

// ParseStatic reads "AA:BB:..=name,CC:DD:..=other" into devices. The name part
// is optional.
func ParseStatic(raw string) []Device {
	var devices []Device
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		addr, name, _ := strings.Cut(item, "=")
		devices = append(devices, Device{Address: NormalizeAddress(addr), Name: strings.TrimSpace(name)})
	}
	return devices
}
