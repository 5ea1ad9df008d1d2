package ppu

// RenderBGScanlineUsingFetcher renders 160 BG pixels for the given LY by
// running the bgFetcher state machine to completion, tile row by tile row,
// rather than decoding tile bytes inline. Inputs:
// - mem: VRAM reader
// - mapBase: 0x9800 or 0x9C00
// - tileData8000: true -> 0x8000 addressing; false -> 0x8800 signed addressing
// - scx, scy: scroll registers
// - ly: current scanline (0..143)
// Output: 160 color indices (0..3)
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	bgY := uint16(ly) + uint16(scy)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31

	startX := uint16(scx)
	tileCol := byte((startX >> 3) & 31)
	fineX := int(startX & 7)

	mapRowBase := mapBase + mapY*32

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, mapRowBase, tileCol, fineY)
	f.runTileFetch()
	for i := 0; i < fineX; i++ {
		_, _ = q.Pop()
	}

	for x := 0; x < 160; x++ {
		if q.Len() == 0 {
			f.runTileFetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer for a scanline
// using the same fetcher state machine. It fills pixels starting at
// wxStart (WX-7) using winLine as the vertical line within the window.
// Pixels before wxStart are left as 0 (BG color index 0) so callers can
// blend.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, wxStart int, winLine byte) [160]byte {
	var out [160]byte
	if wxStart >= 160 {
		return out
	}
	if wxStart < 0 {
		wxStart = 0
	}
	mapY := (uint16(winLine) >> 3) & 31
	fineY := winLine & 7
	mapRowBase := mapBase + mapY*32

	var q fifo
	f := newBGFetcher(mem, &q)
	f.Configure(tileData8000, mapRowBase, 0, fineY)
	f.runTileFetch()
	for x := wxStart; x < 160; x++ {
		if q.Len() == 0 {
			f.runTileFetch()
		}
		px, _ := q.Pop()
		out[x] = px
	}
	return out
}
