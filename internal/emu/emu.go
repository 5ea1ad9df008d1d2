package emu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/gbcore/dmgemu/internal/bus"
	"github.com/gbcore/dmgemu/internal/cart"
	"github.com/gbcore/dmgemu/internal/cpu"
	"github.com/gbcore/dmgemu/internal/errs"
	"github.com/gbcore/dmgemu/internal/ppu"
)

// dotsPerFrame is the DMG's fixed frame length: 154 lines * 456 dots.
const dotsPerFrame = 154 * 456

// Buttons is the set of currently pressed joypad inputs for one frame.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

func (b Buttons) mask() byte {
	var m byte
	if b.A {
		m |= bus.JoypA
	}
	if b.B {
		m |= bus.JoypB
	}
	if b.Select {
		m |= bus.JoypSelectBtn
	}
	if b.Start {
		m |= bus.JoypStart
	}
	if b.Up {
		m |= bus.JoypUp
	}
	if b.Down {
		m |= bus.JoypDown
	}
	if b.Left {
		m |= bus.JoypLeft
	}
	if b.Right {
		m |= bus.JoypRight
	}
	return m
}

// Machine wires cart+bus+cpu together and drives whole-frame stepping.
type Machine struct {
	cfg Config

	bus *bus.Bus
	c   *cpu.CPU

	header  *cart.Header
	romPath string
	rom     []byte
	boot    []byte

	serialWriter io.Writer

	wantCGBColors   bool
	useCGBBG        bool
	compatPaletteID int
}

func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, compatPaletteID: -1}
}

// LoadCartridge builds a fresh cartridge/bus/cpu for the given ROM image,
// optionally overlaying a boot ROM at reset. Any prior machine state (save
// states, running game) is discarded.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return fmt.Errorf("parse header: %w", err)
	}
	m.header = h
	m.rom = rom
	m.boot = boot

	b := bus.NewWithCartridgeAndSampleRate(cart.NewCartridge(rom), m.cfg.SampleRate)
	b.PPU().SetRenderEnabled(true)
	if m.serialWriter != nil {
		b.SetSerialWriter(m.serialWriter)
	}
	m.bus = b
	m.c = cpu.New(b)

	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
		// PC stays at 0x0000 so execution starts in the boot ROM.
	} else {
		m.c.ResetNoBoot()
		m.c.SetPC(0x0100)
	}

	m.compatPaletteID, _ = autoCompatPaletteFromHeader(h)
	m.useCGBBG = false
	if m.wantCGBColors && m.IsCGBCompat() {
		m.applyCompatPalette()
		m.useCGBBG = true
	}
	return nil
}

// LoadROMFromFile reads a ROM from disk and loads it, carrying over any boot
// ROM previously set via SetBootROM.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &errs.IoError{Op: "read ROM", Path: path, Err: err}
	}
	if err := m.LoadCartridge(data, m.boot); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// SetBootROM stores a boot ROM image to be used by future LoadCartridge/Reset
// calls; it does not affect a machine already past boot.
func (m *Machine) SetBootROM(data []byte) {
	m.boot = data
	if m.bus != nil && len(data) >= 0x100 {
		m.bus.SetBootROM(data)
	}
}

// SetSerialWriter attaches a sink for serial port (link cable) output, used
// by test-ROM harnesses that report pass/fail over serial.
func (m *Machine) SetSerialWriter(w io.Writer) {
	m.serialWriter = w
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// LoadBattery restores external cartridge RAM from a prior save. Returns
// false if the current cartridge has no battery-backed RAM.
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of external cartridge RAM for persistence.
// Returns false if the current cartridge has no battery-backed RAM.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// ResetPostBoot reconstructs the machine from the currently loaded ROM bytes
// with registers set to typical post-boot state (no boot ROM overlay).
func (m *Machine) ResetPostBoot() {
	if m.rom == nil {
		return
	}
	_ = m.LoadCartridge(m.rom, nil)
}

// ResetWithBoot reconstructs the machine from the currently loaded ROM bytes,
// running through the stored boot ROM if one is set.
func (m *Machine) ResetWithBoot() {
	if m.rom == nil {
		return
	}
	_ = m.LoadCartridge(m.rom, m.boot)
}

// ResetCGBPostBoot resets like ResetPostBoot and, when compat is true and the
// cartridge is DMG-compatible, immediately engages the auto-detected compat
// color palette instead of the default green ramp.
func (m *Machine) ResetCGBPostBoot(compat bool) {
	m.ResetPostBoot()
	if compat && m.IsCGBCompat() {
		m.useCGBBG = true
		m.applyCompatPalette()
	}
}

// StepFrame advances emulation by exactly one video frame (70224 dots),
// rendering into the framebuffer.
func (m *Machine) StepFrame() {
	m.stepDots(dotsPerFrame)
}

// StepFrameNoRender advances one frame without writing into the framebuffer,
// useful for headless test-ROM running where only serial output matters.
func (m *Machine) StepFrameNoRender() {
	if m.bus == nil {
		return
	}
	p := m.bus.PPU()
	p.SetRenderEnabled(false)
	m.stepDots(dotsPerFrame)
	p.SetRenderEnabled(true)
}

func (m *Machine) stepDots(dots int) {
	if m.c == nil {
		return
	}
	target := dots
	for target > 0 {
		cycles, err := m.c.Step()
		if cycles <= 0 {
			cycles = 4
		}
		target -= cycles
		if err != nil {
			return
		}
	}
}

// Framebuffer returns the live RGBA 160x144x4 pixel buffer.
func (m *Machine) Framebuffer() []byte {
	if m.bus == nil {
		return make([]byte, 160*144*4)
	}
	return m.bus.PPU().Framebuffer()
}

// SetButtons updates which joypad buttons are currently held.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}

// ROMPath returns the filesystem path of the currently loaded ROM, if loaded
// via LoadROMFromFile.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the cartridge header title, or "" if no ROM is loaded.
func (m *Machine) ROMTitle() string {
	if m.header == nil {
		return ""
	}
	return m.header.Title
}

// --- Audio ---

// APUBufferedStereo returns the number of stereo sample frames currently
// buffered and ready to pull.
func (m *Machine) APUBufferedStereo() int {
	if m.bus == nil {
		return 0
	}
	return m.bus.APU().StereoAvailable()
}

// APUPullStereo drains up to n interleaved stereo frames [L0,R0,L1,R1,...].
func (m *Machine) APUPullStereo(n int) []int16 {
	if m.bus == nil {
		return nil
	}
	return m.bus.APU().PullStereo(n)
}

// APUCapBufferedStereo drops buffered frames beyond max, used to bound audio
// latency when the consumer falls behind.
func (m *Machine) APUCapBufferedStereo(max int) {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	if excess := a.StereoAvailable() - max; excess > 0 {
		a.PullStereo(excess)
	}
}

// APUClearAudioLatency discards all buffered audio, resetting latency to zero.
func (m *Machine) APUClearAudioLatency() {
	if m.bus == nil {
		return
	}
	a := m.bus.APU()
	for a.StereoAvailable() > 0 {
		if len(a.PullStereo(a.StereoAvailable())) == 0 {
			break
		}
	}
}

// --- DMG-on-CGB compatibility coloring ---
// Real CGB hardware auto-colors monochrome carts using a small built-in table
// of palettes keyed by title/licensee. We reproduce just that coloring
// behavior (a 4-shade palette swap), not CGB's tile attributes, VRAM bank 2,
// or double-speed mode -- this machine runs DMG-mode carts only.

// IsCGBCompat reports whether a cartridge is loaded and eligible for the
// auto-color palette system.
func (m *Machine) IsCGBCompat() bool { return m.header != nil }

// WantCGBColors reports the user's preference toggle for compat coloring.
func (m *Machine) WantCGBColors() bool { return m.wantCGBColors }

// UseCGBBG reports whether compat coloring is actually engaged right now.
func (m *Machine) UseCGBBG() bool { return m.useCGBBG }

// SetUseCGBBG sets the user preference and, if a compatible cart is loaded,
// engages or disengages the palette immediately.
func (m *Machine) SetUseCGBBG(v bool) {
	m.wantCGBColors = v
	if !m.IsCGBCompat() {
		return
	}
	m.useCGBBG = v
	if v {
		m.applyCompatPalette()
	} else if m.bus != nil {
		m.bus.PPU().SetPalette(ppu.DefaultPalette)
	}
}

// CurrentCompatPalette returns the active palette ID (index into the named set).
func (m *Machine) CurrentCompatPalette() int {
	if m.compatPaletteID < 0 {
		return 0
	}
	return m.compatPaletteID % len(cgbCompatSets)
}

// CompatPaletteName returns the display name for a palette ID.
func (m *Machine) CompatPaletteName(id int) string {
	return cgbCompatSetNames[((id%len(cgbCompatSetNames))+len(cgbCompatSetNames))%len(cgbCompatSetNames)]
}

// SetCompatPalette selects a palette by ID and applies it if coloring is engaged.
func (m *Machine) SetCompatPalette(id int) {
	n := len(cgbCompatSets)
	m.compatPaletteID = ((id % n) + n) % n
	if m.useCGBBG {
		m.applyCompatPalette()
	}
}

// CycleCompatPalette moves the selection by delta (wrapping) and applies it.
func (m *Machine) CycleCompatPalette(delta int) {
	m.SetCompatPalette(m.CurrentCompatPalette() + delta)
}

func (m *Machine) applyCompatPalette() {
	if m.bus == nil {
		return
	}
	id := m.CurrentCompatPalette()
	m.bus.PPU().SetPalette(cgbCompatSets[id])
}

// --- Save states ---

type machineState struct {
	CPU []byte
	Bus []byte
}

// SaveStateToFile serializes CPU and bus/peripheral state to path.
func (m *Machine) SaveStateToFile(path string) error {
	if m.c == nil || m.bus == nil {
		return fmt.Errorf("no machine loaded")
	}
	s := machineState{CPU: m.c.SaveState(), Bus: m.bus.SaveState()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return &errs.IoError{Op: "encode save state", Path: path, Err: err}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return &errs.IoError{Op: "write save state", Path: path, Err: err}
	}
	return nil
}

// LoadStateFromFile restores a save state written by SaveStateToFile.
func (m *Machine) LoadStateFromFile(path string) error {
	if m.c == nil || m.bus == nil {
		return fmt.Errorf("no machine loaded")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return &errs.IoError{Op: "read save state", Path: path, Err: err}
	}
	var s machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return &errs.IoError{Op: "decode save state", Path: path, Err: err}
	}
	m.c.LoadState(s.CPU)
	m.bus.LoadState(s.Bus)
	return nil
}
