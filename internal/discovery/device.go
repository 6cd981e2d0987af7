// Package discovery finds capture device nodes and follows them across
// hotplug. It reports identity only; sessions are opened elsewhere.
package discovery

import (
	"fmt"
	"strings"
)

// Device is a capture node with the identity of the USB device behind it.
// USB fields are zero for non-USB (platform) devices.
type Device struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	BusInfo  string `json:"bus_info"`
	Caps     uint32 `json:"caps"`
	Index    int    `json:"index"`
	StableID string `json:"stable_id,omitempty"`

	Location     string `json:"location,omitempty"`
	VendorID     uint16 `json:"vendor_id,omitempty"`
	ProductID    uint16 `json:"product_id,omitempty"`
	BusNum       int    `json:"bus_num,omitempty"`
	DevNum       int    `json:"dev_num,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Serial       string `json:"serial,omitempty"`
}

// IsUSB reports whether USB identity was found.
func (d Device) IsUSB() bool {
	return d.VendorID != 0 || d.ProductID != 0
}

// USBID renders "vvvv:pppp" or "" for non-USB devices.
func (d Device) USBID() string {
	if !d.IsUSB() {
		return ""
	}
	return fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID)
}

// DisplayName prefers the USB product string over the driver card name.
func (d Device) DisplayName() string {
	if d.Product != "" {
		if d.Manufacturer != "" && !strings.HasPrefix(d.Product, d.Manufacturer) {
			return d.Manufacturer + " " + d.Product
		}
		return d.Product
	}
	return d.Name
}
