package cart

import (
	"bytes"
	"encoding/gob"
)

// ROMOnly implements cartridge type 0x00: a fixed ROM mapped directly into
// 0x0000-0x7FFF with no banking registers and no external RAM. Most
// homebrew test ROMs, and the earliest commercial carts, use this.
type ROMOnly struct {
	rom []byte
}

func NewROMOnly(rom []byte) *ROMOnly {
	return &ROMOnly{rom: rom}
}

func (c *ROMOnly) Read(addr uint16) byte {
	if addr < 0x8000 {
		if int(addr) < len(c.rom) {
			return c.rom[addr]
		}
		return 0xFF
	}
	// 0xA000-0xBFFF (and anything else routed here): no external RAM.
	return 0xFF
}

// Write is a no-op: there are no banking registers or RAM to target.
func (c *ROMOnly) Write(addr uint16, value byte) {}

// romOnlyState carries no fields today -- there is no mutable register or
// RAM to persist -- but is still gob-encoded, like every other Cartridge
// implementation's state, so a future revision (e.g. MMM01-style mapper
// detection) can grow fields without changing the SaveState/LoadState
// contract.
type romOnlyState struct{}

func (c *ROMOnly) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(romOnlyState{})
	return buf.Bytes()
}

func (c *ROMOnly) LoadState(data []byte) {
	var s romOnlyState
	_ = gob.NewDecoder(bytes.NewReader(data)).Decode(&s)
}
