package types

import (
	"strings"
	"unicode"
)

// DeviceType classifies a device by its ID range.
type DeviceType string

const (
	// DeviceTypeAthlete covers device IDs 1 to 35.
	DeviceTypeAthlete DeviceType = "AthleteDevice"

	// DeviceTypePaymentTerminal covers device IDs 36 to 50.
	DeviceTypePaymentTerminal DeviceType = "PaymentTerminal"
)

// Device pool bounds.
const (
	MinDeviceID          = 1
	MaxAthleteDeviceID   = 35
	MinPaymentTerminalID = 36
	MaxDeviceID          = 50
)

// DeviceTypes lists every device type in display order.
var DeviceTypes = []DeviceType{DeviceTypeAthlete, DeviceTypePaymentTerminal}

// DeviceTypeOf derives the type of a device from its ID. The second result
// is false for IDs outside the pool.
func DeviceTypeOf(deviceID int) (DeviceType, bool) {
	switch {
	case deviceID >= MinDeviceID && deviceID <= MaxAthleteDeviceID:
		return DeviceTypeAthlete, true
	case deviceID >= MinPaymentTerminalID && deviceID <= MaxDeviceID:
		return DeviceTypePaymentTerminal, true
	default:
		return "", false
	}
}

// ParseDeviceType accepts the canonical names, the spaced labels
// ("Athlete Device", "Payment Terminal") used in older data files and
// snake_case query values.
func ParseDeviceType(raw string) (DeviceType, bool) {
	normalized := strings.ToLower(strings.Join(strings.FieldsFunc(raw, isTypeSeparator), ""))
	switch normalized {
	case "athletedevice", "athlete":
		return DeviceTypeAthlete, true
	case "paymentterminal", "payment", "terminal":
		return DeviceTypePaymentTerminal, true
	default:
		return "", false
	}
}

func isTypeSeparator(r rune) bool {
	return r == '_' || r == '-' || unicode.IsSpace(r)
}

// Label returns the human readable name of the device type.
func (t DeviceType) Label() string {
	switch t {
	case DeviceTypeAthlete:
		return "Athlete Device"
	case DeviceTypePaymentTerminal:
		return "Payment Terminal"
	default:
		return string(t)
	}
}

// DeviceIDs returns the IDs belonging to the given type in ascending order.
func DeviceIDs(t DeviceType) []int {
	var lo, hi int
	switch t {
	case DeviceTypeAthlete:
		lo, hi = MinDeviceID, MaxAthleteDeviceID
	case DeviceTypePaymentTerminal:
		lo, hi = MinPaymentTerminalID, MaxDeviceID
	default:
		return nil
	}
	ids := make([]int, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		ids = append(ids, id)
	}
	return ids
}

// DeviceStatus describes one device of the pool and its current holder.
type DeviceStatus struct {
	ID     int         `json:"id"`
	Type   DeviceType  `json:"type"`
	Holder *Assignment `json:"holder,omitempty"`
}
