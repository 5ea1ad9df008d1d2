package ppu

import "github.com/gbcore/dmgemu/internal/vram"

// rawReader lets the fetcher read tile/map bytes straight out of the PPU's
// own VRAM array, bypassing the CPU-facing mode-3 lockout (the PPU is
// always allowed to see its own memory).
type rawReader struct{ vram *[0x2000]byte }

func (r rawReader) Read(addr uint16) byte {
	if addr < 0x8000 || addr > 0x9FFF {
		return 0xFF
	}
	return r.vram[addr-0x8000]
}

// ReadTile decodes the 16-byte tile at addr (a full 0x8000-based address)
// through vram.DecodeTile, so the fetcher works with structured rows
// instead of re-deriving the bitplane layout itself.
func (r rawReader) ReadTile(addr uint16) vram.Tile {
	return vram.DecodeTile(r.vram[:], addr)
}

// Sprite is the raw, attribute-byte form of an OAM entry used by
// ComposeSpriteLine. See internal/vram for the field-decoded equivalent used
// elsewhere.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// ComposeSpriteLine renders the sprite layer for one scanline as raw 2-bit
// color indices (0 = no sprite pixel here), honoring 8x8/8x16 mode, X/Y
// flip, BG-priority, and leftmost-X draw priority with OAM-index tiebreak.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) [160]byte {
	ci, _ := composeSpriteLine(mem, sprites, ly, bgci, tall)
	return ci
}

// composeSpriteLine is ComposeSpriteLine's implementation, additionally
// returning the attribute byte of whichever sprite won each pixel so the
// caller can pick OBP0 vs OBP1 without re-deriving priority.
func composeSpriteLine(mem VRAMReader, sprites []Sprite, ly byte, bgci [160]byte, tall bool) (ci [160]byte, attrs [160]byte) {
	height := 8
	if tall {
		height = 16
	}

	type withRow struct {
		s   Sprite
		row [8]byte
	}
	var visible []withRow
	for _, s := range sprites {
		if len(visible) >= 10 {
			break // hardware limit: at most 10 sprites rendered per scanline
		}
		if int(ly) < s.Y || int(ly) >= s.Y+height {
			continue
		}
		row := byte(int(ly) - s.Y)
		flipY := s.Attr&0x40 != 0
		flipX := s.Attr&0x20 != 0
		tile := s.Tile
		if tall {
			tile &^= 0x01
			if flipY {
				row = byte(height-1) - row
			}
			if row >= 8 {
				tile |= 0x01
				row -= 8
			}
		} else if flipY {
			row = 7 - row
		}
		base := uint16(0x8000) + uint16(tile)*16 + uint16(row)*2
		lo := mem.Read(base)
		hi := mem.Read(base + 1)
		var r [8]byte
		for px := 0; px < 8; px++ {
			bit := byte(7 - px)
			if flipX {
				bit = byte(px)
			}
			r[px] = ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
		}
		visible = append(visible, withRow{s, r})
	}

	// Stable insertion sort by X ascending; equal X keeps arrival order
	// (OAM index order, lower index wins on real hardware).
	for i := 1; i < len(visible); i++ {
		for j := i; j > 0 && visible[j].s.X < visible[j-1].s.X; j-- {
			visible[j], visible[j-1] = visible[j-1], visible[j]
		}
	}

	for x := 0; x < 160; x++ {
		for _, sp := range visible {
			px := x - sp.s.X
			if px < 0 || px >= 8 {
				continue
			}
			c := sp.row[px]
			if c == 0 {
				continue
			}
			if sp.s.Attr&0x80 != 0 && bgci[x] != 0 {
				continue
			}
			ci[x] = c
			attrs[x] = sp.s.Attr
			break
		}
	}
	return ci, attrs
}

// beginScanlinePixelPipeline latches the current line's fetcher starting
// point. Called once, at the dot the PPU enters mode 3 for line p.ly.
func (p *PPU) beginScanlinePixelPipeline() {
	ly := p.ly
	if ly >= 144 {
		return
	}
	lr := p.lineRegs[ly]
	p.pxFifo.Clear()
	p.pixelX = 0
	p.pxWinActive = false
	p.pxWindowDrawn = false
	p.pxBGEnabled = lr.LCDC&0x01 != 0
	p.pxWinEnabled = lr.LCDC&0x20 != 0 && p.pxBGEnabled && ly >= lr.WY && lr.WX <= 166
	p.pxWinStartX = int(lr.WX) - 7

	if !p.pxBGEnabled {
		p.pxDiscard = 0
		return
	}
	bgY := uint16(ly) + uint16(lr.SCY)
	fineY := byte(bgY & 7)
	mapY := (bgY >> 3) & 31
	mapBase := uint16(0x9800)
	if lr.LCDC&0x08 != 0 {
		mapBase = 0x9C00
	}
	tileData8000 := lr.LCDC&0x10 != 0
	tileCol := byte((uint16(lr.SCX) >> 3) & 31)
	p.pxf.Configure(tileData8000, mapBase+mapY*32, tileCol, fineY)
	p.pxDiscard = int(lr.SCX & 7)
}

// stepPixelPipeline advances the BG/window fetcher by one dot and, once any
// leading SCX-fraction pixels have been discarded, pops at most one pixel
// into the current line's buffer. Switches the fetcher over to the window
// tilemap the dot the pixel cursor reaches WX-7, mirroring how real
// hardware restarts the fetcher when the window takes over a line.
func (p *PPU) stepPixelPipeline() {
	ly := p.ly
	if ly >= 144 || p.pixelX >= 160 {
		return
	}
	if !p.pxBGEnabled {
		p.curLine[p.pixelX] = 0
		p.pixelX++
		return
	}
	if p.pxWinEnabled && !p.pxWinActive {
		start := p.pxWinStartX
		if start < 0 {
			start = 0
		}
		if p.pixelX >= start {
			p.pxWinActive = true
			p.pxWindowDrawn = true
			p.pxFifo.Clear()
			lr := p.lineRegs[ly]
			mapBase := uint16(0x9800)
			if lr.LCDC&0x40 != 0 {
				mapBase = 0x9C00
			}
			tileData8000 := lr.LCDC&0x10 != 0
			fineY := lr.WinLine & 7
			mapY := uint16(lr.WinLine>>3) & 31
			p.pxf.Configure(tileData8000, mapBase+mapY*32, 0, fineY)
			p.pxDiscard = 0
		}
	}

	p.pxf.Advance()

	if p.pxDiscard > 0 {
		if _, ok := p.pxFifo.Pop(); ok {
			p.pxDiscard--
		}
		return
	}
	if px, ok := p.pxFifo.Pop(); ok {
		p.curLine[p.pixelX] = px
		p.pixelX++
	}
}

// finishScanline is called at the mode3->0 transition. It drains any pixels
// that didn't make it through within mode 3's fixed dot budget by continuing
// to step the same fetcher (a late window switch-over can need a few extra
// dots worth of fetch latency), then composites sprites and writes the
// framebuffer for line p.ly.
func (p *PPU) finishScanline() {
	ly := p.ly
	if ly >= 144 {
		return
	}
	for p.pixelX < 160 {
		p.stepPixelPipeline()
	}

	lr := p.lineRegs[ly]
	var line [160][3]byte
	for x := 0; x < 160; x++ {
		line[x] = p.shade(lr.BGP, p.curLine[x])
	}

	if lr.LCDC&0x02 != 0 {
		tall := lr.LCDC&0x04 != 0
		sprites := p.collectSprites()
		spriteCI, spriteAttr := composeSpriteLine(rawReader{&p.vram}, sprites, ly, p.curLine, tall)
		for x := 0; x < 160; x++ {
			ci := spriteCI[x]
			if ci == 0 {
				continue
			}
			pal := lr.OBP0
			if spriteAttr[x]&0x10 != 0 {
				pal = lr.OBP1
			}
			line[x] = p.shade(pal, ci)
		}
	}

	if p.renderable {
		base := int(ly) * 160 * 4
		for x := 0; x < 160; x++ {
			o := base + x*4
			c := line[x]
			p.fb[o+0] = c[0]
			p.fb[o+1] = c[1]
			p.fb[o+2] = c[2]
			p.fb[o+3] = 0xFF
		}
	}

	if p.pxWindowDrawn {
		p.winLine++
	}
}

// shade maps a 2-bit color index through a BGP/OBPn palette register to one
// of the four configured display colors.
func (p *PPU) shade(paletteReg byte, colorIdx byte) [3]byte {
	shadeIdx := (paletteReg >> (colorIdx * 2)) & 0x03
	return p.palette[shadeIdx]
}

// collectSprites decodes all 40 OAM entries, in OAM order, for use by
// ComposeSpriteLine (which applies the per-line Y filter and 10-sprite limit).
func (p *PPU) collectSprites() []Sprite {
	out := make([]Sprite, 0, 40)
	for i := 0; i < 40; i++ {
		d := vram.DecodeSprite(p.oam[:], i)
		attr := byte(0)
		if d.BGPriority {
			attr |= 0x80
		}
		if d.FlipY {
			attr |= 0x40
		}
		if d.FlipX {
			attr |= 0x20
		}
		if d.Palette1 {
			attr |= 0x10
		}
		out = append(out, Sprite{X: d.X, Y: d.Y, Tile: d.Tile, Attr: attr, OAMIndex: i})
	}
	return out
}
