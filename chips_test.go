package isp

import "testing"

func TestChipCatalog(t *testing.T) {
	tests := []struct {
		id   uint32
		name string
		ok   bool
	}{
		{0x410, "STM32F10x Medium-density", true},
		{0x413, "STM32F40xxx/41xxx", true},
		{0x11103, "BlueNRG", true},
		{0x999, UnknownChip, false},
	}
	for _, tt := range tests {
		if got := ChipName(tt.id); got != tt.name {
			t.Errorf("ChipName(0x%X) = %q, want %q", tt.id, got, tt.name)
		}
		name, err := LookupChip(tt.id)
		if name != tt.name {
			t.Errorf("LookupChip(0x%X) = %q", tt.id, name)
		}
		if tt.ok && err != nil {
			t.Errorf("LookupChip(0x%X) err = %v", tt.id, err)
		}
		if !tt.ok && !IsKind(err, ChipUnknown) {
			t.Errorf("LookupChip(0x%X) err = %v, want chip unknown", tt.id, err)
		}
	}
}

func TestCommandNames(t *testing.T) {
	if got := CommandExtendedErase.String(); got != "Extended Erase" {
		t.Errorf("got %q", got)
	}
	if got := Command(0x55).String(); got != "command 0x55" {
		t.Errorf("got %q", got)
	}
	if Command(0x55).Known() || !CommandGo.Known() {
		t.Error("Known mismatch")
	}
}

func TestValidBaudRate(t *testing.T) {
	for _, rate := range []int{9600, 115200, 460800} {
		if !ValidBaudRate(rate) {
			t.Errorf("%d rejected", rate)
		}
	}
	if ValidBaudRate(12345) {
		t.Error("12345 accepted")
	}
}
