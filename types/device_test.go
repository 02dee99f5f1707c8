package types

import (
	"testing"
	"time"
)

func TestDeviceTypeOf(t *testing.T) {
	tests := []struct {
		id     int
		want   DeviceType
		wantOK bool
	}{
		{id: 0},
		{id: 1, want: DeviceTypeAthlete, wantOK: true},
		{id: 35, want: DeviceTypeAthlete, wantOK: true},
		{id: 36, want: DeviceTypePaymentTerminal, wantOK: true},
		{id: 50, want: DeviceTypePaymentTerminal, wantOK: true},
		{id: 51},
		{id: -3},
	}
	for _, tt := range tests {
		got, ok := DeviceTypeOf(tt.id)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DeviceTypeOf(%d) = %q, %v; want %q, %v", tt.id, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseDeviceType(t *testing.T) {
	tests := map[string]DeviceType{
		"AthleteDevice":       DeviceTypeAthlete,
		"Athlete Device":      DeviceTypeAthlete,
		"athlete_device":      DeviceTypeAthlete,
		"PaymentTerminal":     DeviceTypePaymentTerminal,
		" payment  terminal ": DeviceTypePaymentTerminal,
		"payment-terminal":    DeviceTypePaymentTerminal,
	}
	for raw, want := range tests {
		got, ok := ParseDeviceType(raw)
		if !ok || got != want {
			t.Errorf("ParseDeviceType(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseDeviceType("laptop"); ok {
		t.Error("unknown type accepted")
	}
}

func TestDeviceIDs(t *testing.T) {
	athlete := DeviceIDs(DeviceTypeAthlete)
	terminals := DeviceIDs(DeviceTypePaymentTerminal)
	if len(athlete) != 35 || athlete[0] != 1 || athlete[34] != 35 {
		t.Errorf("athlete ids = %v", athlete)
	}
	if len(terminals) != 15 || terminals[0] != 36 || terminals[14] != 50 {
		t.Errorf("terminal ids = %v", terminals)
	}
	if DeviceIDs("Tablet") != nil {
		t.Error("unknown type has ids")
	}
}

func TestHistoryFilter_InclusiveBounds(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	record := Assignment{DeviceID: 4, UserID: "000123", DeviceType: DeviceTypeAthlete, CheckoutTime: at}

	before, after := at.Add(-time.Second), at.Add(time.Second)
	user := "000123"
	other := "123"
	terminal := DeviceTypePaymentTerminal

	tests := []struct {
		name   string
		filter HistoryFilter
		want   bool
	}{
		{name: "empty", filter: HistoryFilter{}, want: true},
		{name: "start equals checkout", filter: HistoryFilter{Start: &at}, want: true},
		{name: "end equals checkout", filter: HistoryFilter{End: &at}, want: true},
		{name: "window after", filter: HistoryFilter{Start: &after}, want: false},
		{name: "window before", filter: HistoryFilter{End: &before}, want: false},
		{name: "user", filter: HistoryFilter{UserID: &user}, want: true},
		{name: "leading zeros differ", filter: HistoryFilter{UserID: &other}, want: false},
		{name: "type", filter: HistoryFilter{DeviceType: &terminal}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(record); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAssignment_Clone(t *testing.T) {
	in := time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)
	a := Assignment{DeviceID: 1, CheckinTime: &in}
	b := a.Clone()
	*b.CheckinTime = in.Add(time.Hour)
	if !a.CheckinTime.Equal(in) {
		t.Error("Clone shares the checkin time")
	}
	if a.Active() {
		t.Error("returned assignment reported active")
	}
}
