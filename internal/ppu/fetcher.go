package ppu

import "github.com/gbcore/dmgemu/internal/vram"

// VRAMReader provides read-only access for the fetcher or scanline helpers.
// It abstracts how VRAM bytes are fetched (tests vs. live PPU), and lets a
// real PPU hand back a decoded vram.Tile instead of raw bytes.
type VRAMReader interface {
	Read(addr uint16) byte
	ReadTile(addr uint16) vram.Tile
}

// fifo is a simple ring buffer for 2-bit color indices (0..3).
type fifo struct {
	buf  [32]byte // room for several tiles
	head int
	tail int
	size int
}

func (q *fifo) Clear()   { q.head, q.tail, q.size = 0, 0, 0 }
func (q *fifo) Len() int { return q.size }
func (q *fifo) Push(ci byte) bool {
	if q.size == len(q.buf) {
		return false
	}
	q.buf[q.tail] = ci & 0x03
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
	return true
}
func (q *fifo) Pop() (byte, bool) {
	if q.size == 0 {
		return 0, false
	}
	v := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v, true
}

// fetchState is one step of the pixel fetcher, matching the hardware
// sequence: fetch the tile ID out of the tilemap, fetch the low then high
// bitplane bytes of that tile's row, idle for two dots, then push the row into the
// FIFO (stalling here if the FIFO still holds the previous tile's pixels).
type fetchState int

const (
	stFetchTileID fetchState = iota
	stFetchData0
	stFetchData1
	stSleep
	stPush
)

// bgFetcher drives the BG/window pixel pipeline one dot at a time. Every
// state but push takes two dots to cross; push retries each dot until the
// FIFO is empty, then refills it with 8 pixels and moves on to the next map
// column. Advance is meant to be called once per PPU dot during mode 3.
type bgFetcher struct {
	mem          VRAMReader
	fifo         *fifo
	tileData8000 bool
	mapRowBase   uint16 // mapBase + mapY*32
	tileCol      byte   // 0..31, wraps within the 32-tile map row
	fineY        byte

	state   fetchState
	substep int
	tileNum byte
	tile    vram.Tile
}

func newBGFetcher(mem VRAMReader, f *fifo) *bgFetcher { return &bgFetcher{mem: mem, fifo: f} }

// Configure (re)starts the fetcher at the given map row/column, used at the
// start of a scanline and again when the window takes over mid-line.
func (fch *bgFetcher) Configure(tileData8000 bool, mapRowBase uint16, tileCol byte, fineY byte) {
	fch.tileData8000 = tileData8000
	fch.mapRowBase = mapRowBase
	fch.tileCol = tileCol & 31
	fch.fineY = fineY & 7
	fch.state = stFetchTileID
	fch.substep = 0
}

// tileBaseAddr returns the tile's row-0 address (vram.DecodeTile decodes all
// eight rows relative to this base; fineY picks the row back out via Row).
func (fch *bgFetcher) tileBaseAddr() uint16 {
	if fch.tileData8000 {
		return 0x8000 + uint16(fch.tileNum)*16
	}
	return 0x9000 + uint16(int8(fch.tileNum))*16
}

// Advance steps the fetcher by a single dot.
func (fch *bgFetcher) Advance() {
	switch fch.state {
	case stFetchTileID:
		if fch.substep++; fch.substep >= 2 {
			fch.tileNum = fch.mem.Read(fch.mapRowBase + uint16(fch.tileCol))
			fch.state, fch.substep = stFetchData0, 0
		}
	case stFetchData0:
		if fch.substep++; fch.substep >= 2 {
			// Real hardware reads the low bitplane byte here and the high
			// bitplane byte in the next state; a decoded vram.Tile already
			// carries both, so it's fetched once and held for stFetchData1.
			fch.tile = fch.mem.ReadTile(fch.tileBaseAddr())
			fch.state, fch.substep = stFetchData1, 0
		}
	case stFetchData1:
		if fch.substep++; fch.substep >= 2 {
			fch.state, fch.substep = stSleep, 0
		}
	case stSleep:
		if fch.substep++; fch.substep >= 2 {
			fch.state, fch.substep = stPush, 0
		}
	case stPush:
		if fch.fifo.Len() == 0 {
			row := fch.tile.Row(fch.fineY, false)
			for px := 0; px < 8; px++ {
				fch.fifo.Push(row[px])
			}
			fch.tileCol = (fch.tileCol + 1) & 31
			fch.state, fch.substep = stFetchTileID, 0
		}
	}
}

// runTileFetch drives Advance until one full tile row has landed in the
// FIFO. Used by the synchronous scanline helpers below, which compute a
// whole line by running this state machine to completion rather than
// re-deriving the tile-row bit math inline.
func (fch *bgFetcher) runTileFetch() {
	before := fch.fifo.Len()
	for fch.fifo.Len() == before {
		fch.Advance()
	}
}
