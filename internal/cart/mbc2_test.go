package cart

import "testing"

func TestMBC2_ROMBanking(t *testing.T) {
	rom := make([]byte, 16*0x4000)
	for bank := 0; bank < 16; bank++ {
		rom[bank*0x4000] = byte(bank)
	}
	m := NewMBC2(rom)

	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("default bank read got %02X want 01", got)
	}

	// Bank-select write requires address bit 8 set.
	m.Write(0x2100, 0x05)
	if got := m.Read(0x4000); got != 0x05 {
		t.Fatalf("bank5 read got %02X want 05", got)
	}

	// Bank 0 remaps to 1.
	m.Write(0x2100, 0x00)
	if got := m.Read(0x4000); got != 0x01 {
		t.Fatalf("bank0->1 remap failed: got %02X", got)
	}
}

func TestMBC2_BuiltInRAM_NibbleMasked(t *testing.T) {
	m := NewMBC2(make([]byte, 0x4000))

	// RAM disabled by default.
	if got := m.Read(0xA000); got != 0xFF {
		t.Fatalf("disabled RAM read got %02X want FF", got)
	}

	// Enable RAM: address bit 8 clear, low nibble 0x0A.
	m.Write(0x0000, 0x0A)
	m.Write(0xA000, 0x53)
	if got := m.Read(0xA000); got != 0xF3 {
		t.Fatalf("RAM nibble read got %02X want F3 (high nibble forced to 1s)", got)
	}

	// Address wraps every 512 bytes across the whole A000-BFFF window.
	m.Write(0xA200, 0x07)
	if got := m.Read(0xA000); got != 0x07|0xF0 {
		t.Fatalf("RAM alias write got %02X want F7", got)
	}
}

func TestMBC2_SaveLoadState(t *testing.T) {
	rom := make([]byte, 16*0x4000)
	rom[3*0x4000] = 0x99
	m := NewMBC2(rom)
	m.Write(0x0000, 0x0A)
	m.Write(0xA010, 0x05)
	m.Write(0x2100, 0x03)

	s := m.SaveState()

	m2 := NewMBC2(rom)
	m2.LoadState(s)
	if got := m2.Read(0xA010); got != 0xF5 {
		t.Fatalf("restored RAM got %02X want F5", got)
	}
	if got := m2.Read(0x4000); got != 0x99 {
		t.Fatalf("restored ROM bank selection lost: got %02X", got)
	}
}
