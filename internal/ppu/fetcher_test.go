package ppu

import (
	"testing"

	"github.com/gbcore/dmgemu/internal/vram"
)

func TestFIFO(t *testing.T) {
	var q fifo
	if q.Len() != 0 {
		t.Fatal("new fifo not empty")
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("pop from empty should fail")
	}
	for i := 0; i < 32; i++ {
		if !q.Push(byte(i)) {
			t.Fatal("unexpected full")
		}
	}
	if q.Push(0) {
		t.Fatal("should be full")
	}
	for i := 0; i < 32; i++ {
		v, ok := q.Pop()
		if !ok {
			t.Fatal("unexpected empty")
		}
		if v != byte(i)&3 {
			t.Fatalf("got %d want %d", v, byte(i)&3)
		}
	}
}

// mockVRAM answers Read/ReadTile straight out of a sparse byte map, letting
// tests set up only the bytes a given fetch will actually touch.
type mockVRAM map[uint16]byte

func (m mockVRAM) Read(addr uint16) byte { return m[addr] }

func (m mockVRAM) ReadTile(addr uint16) vram.Tile {
	raw := make([]byte, 0x2000)
	for a, v := range m {
		if a >= 0x8000 && a < 0xA000 {
			raw[a-0x8000] = v
		}
	}
	return vram.DecodeTile(raw, addr)
}

func TestBGFetcherStateMachineTiming(t *testing.T) {
	// lo: 01010101 (0x55), hi: 00110011 (0x33)
	mem := mockVRAM{}
	mem[0x9800] = 0 // tile index 0
	mem[0x8000] = 0x55
	mem[0x8001] = 0x33
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(true, 0x9800, 0, 0)

	// Tile/Data0/Data1/Sleep each take 2 dots to cross (8 dots), landing the
	// fetcher in the push state; push itself executes on the next dot,
	// since the FIFO starts out empty.
	for i := 0; i < 8; i++ {
		f.Advance()
		if q.Len() != 0 {
			t.Fatalf("fifo filled early, after %d dots", i+1)
		}
	}
	f.Advance()
	if q.Len() != 8 {
		t.Fatalf("expected 8 pixels in fifo after 9 dots, got %d", q.Len())
	}

	lo, hi := byte(0x55), byte(0x33)
	for i := 0; i < 8; i++ {
		b := 7 - byte(i)
		want := ((hi>>b)&1)<<1 | ((lo >> b) & 1)
		got, _ := q.Pop()
		if got != want {
			t.Fatalf("px %d got %d want %d", i, got, want)
		}
	}
}

func TestBGFetcherSignedTileAddressing8800(t *testing.T) {
	mem := mockVRAM{}
	// map points to tile index 0xFF (-1)
	mapRowBase := uint16(0x9C00)
	mem[mapRowBase] = 0xFF
	// For 0x8800 signed addressing, index 0 is at 0x9000; -1 => 0x8FF0
	fineY := byte(5) // row 5 -> offset 10 bytes into tile (each row 2 bytes)
	rowAddr := uint16(0x8FF0) + uint16(fineY)*2
	lo, hi := byte(0xA5), byte(0x5A)
	mem[rowAddr] = lo
	mem[rowAddr+1] = hi

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(false, mapRowBase, 0, fineY)
	f.runTileFetch()
	if q.Len() != 8 {
		t.Fatalf("expected 8 pixels in fifo, got %d", q.Len())
	}
	for i := 0; i < 8; i++ {
		b := 7 - byte(i)
		want := ((hi>>b)&1)<<1 | ((lo >> b) & 1)
		got, _ := q.Pop()
		if got != want {
			t.Fatalf("px %d got %d want %d", i, got, want)
		}
	}
}

func TestBGFetcherPushStallsUntilFIFOEmpty(t *testing.T) {
	mem := mockVRAM{}
	mem[0x9800] = 0
	mem[0x8000] = 0xFF
	mem[0x8001] = 0x00
	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(true, 0x9800, 0, 0)
	// Pre-fill the FIFO so the first push attempt must stall.
	q.Push(0)
	for i := 0; i < 8; i++ {
		f.Advance()
	}
	if q.Len() != 1 {
		t.Fatalf("push should have stalled while fifo non-empty, got len %d", q.Len())
	}
	q.Pop()
	f.Advance()
	if q.Len() != 8 {
		t.Fatalf("push should complete once fifo drains, got len %d", q.Len())
	}
}
