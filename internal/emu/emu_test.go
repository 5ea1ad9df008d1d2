package emu

import (
	"os"
	"path/filepath"
	"testing"
)

// buildROM returns a minimal 32KB ROM-only cartridge image with a valid header.
func buildROM(title string) []byte {
	rom := make([]byte, 32*1024)
	copy(rom[0x0134:0x0144], title)
	rom[0x0147] = 0x00 // ROM ONLY
	rom[0x0148] = 0x00 // 32KB
	rom[0x0149] = 0x00 // no RAM
	// infinite loop at entry point so StepFrame doesn't run off into garbage
	rom[0x0100] = 0x18 // JR -2
	rom[0x0101] = 0xFE
	return rom
}

func TestMachine_LoadAndStepFrame(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROM("TESTROM"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if got := m.ROMTitle(); got != "TESTROM" {
		t.Fatalf("ROMTitle got %q", got)
	}
	m.StepFrame()
	fb := m.Framebuffer()
	if len(fb) != 160*144*4 {
		t.Fatalf("framebuffer size got %d", len(fb))
	}
}

func TestMachine_StepFrameNoRenderThenRenderResumes(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROM("X"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	m.StepFrameNoRender()
	m.SetButtons(Buttons{A: true})
	m.StepFrame()
	if len(m.Framebuffer()) != 160*144*4 {
		t.Fatalf("unexpected framebuffer size after mixed stepping")
	}
}

func TestMachine_SaveLoadStateRoundTrip(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROM("SAVE"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	for i := 0; i < 5; i++ {
		m.StepFrame()
	}
	path := filepath.Join(t.TempDir(), "slot0.savestate")
	if err := m.SaveStateToFile(path); err != nil {
		t.Fatalf("SaveStateToFile: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("save state file missing: %v", err)
	}
	if err := m.LoadStateFromFile(path); err != nil {
		t.Fatalf("LoadStateFromFile: %v", err)
	}
}

func TestMachine_CompatPaletteCycle(t *testing.T) {
	m := New(Config{})
	if err := m.LoadCartridge(buildROM("TETRIS"), nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	if !m.IsCGBCompat() {
		t.Fatalf("expected IsCGBCompat true once a cart is loaded")
	}
	m.SetUseCGBBG(true)
	if !m.UseCGBBG() {
		t.Fatalf("expected UseCGBBG true after SetUseCGBBG(true)")
	}
	before := m.CurrentCompatPalette()
	m.CycleCompatPalette(1)
	if m.CurrentCompatPalette() == before && len(cgbCompatSets) > 1 {
		t.Fatalf("expected palette to change after cycling")
	}
	if name := m.CompatPaletteName(0); name != "Green" {
		t.Fatalf("palette 0 name got %q want Green", name)
	}
}

func TestMachine_BatteryRoundTrip(t *testing.T) {
	rom := buildROM("BATT")
	rom[0x0147] = 0x03  // MBC1+RAM+BATTERY
	rom[0x0149] = 0x02  // 8KB RAM
	m := New(Config{})
	if err := m.LoadCartridge(rom, nil); err != nil {
		t.Fatalf("LoadCartridge: %v", err)
	}
	data, ok := m.SaveBattery()
	if !ok {
		t.Fatalf("expected battery-backed RAM to be present")
	}
	if len(data) == 0 {
		t.Fatalf("SaveBattery returned no RAM bytes")
	}
	data[0] = 0x5A
	if !m.LoadBattery(data) {
		t.Fatalf("LoadBattery reported no battery-backed RAM")
	}
	if got, _ := m.SaveBattery(); got[0] != 0x5A {
		t.Fatalf("battery RAM after reload got %02X want 5A", got[0])
	}
}
