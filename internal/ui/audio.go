package ui

import (
	"encoding/binary"
	"time"

	"github.com/gbcore/dmgemu/internal/emu"
)

// applyPlayerBufferSize shrinks the ebiten player's internal ring buffer while
// in low-latency mode or fast-forward, and relaxes it back otherwise.
func (a *App) applyPlayerBufferSize() {
	if a.audioPlayer == nil {
		return
	}
	bufMs := 40
	if a.cfg.AudioLowLatency || a.fast {
		bufMs = 20
	}
	a.audioPlayer.SetBufferSize(time.Duration(bufMs) * time.Millisecond)
}

// apuStream adapts the machine's pulled-stereo-frame APU output to io.Reader,
// the shape ebiten's audio.Player wants, converting to 16-bit little-endian
// frames and folding to mono on request.
type apuStream struct {
	m          *emu.Machine
	mono       bool
	muted      *bool
	lowLatency bool

	underruns  int
	lastWant   int
	lastPulled int
}

const bytesPerFrame = 4 // one int16 per channel, stereo

func (s *apuStream) Read(p []byte) (int, error) {
	if len(p) == 0 || s == nil || s.m == nil {
		return 0, nil
	}
	if len(p) < bytesPerFrame {
		clearSilence(p)
		return len(p), nil
	}
	if s.muted != nil && *s.muted {
		clearSilence(p)
		time.Sleep(5 * time.Millisecond)
		return len(p), nil
	}

	capFrames := 2048 // ~42.7ms at 48kHz
	if s.lowLatency {
		capFrames = 1024 // ~21.3ms
	}
	maxReq := len(p) / bytesPerFrame
	if maxReq > capFrames {
		maxReq = capFrames
	}

	want := s.waitForFrames(maxReq)
	if want <= 0 {
		return s.fallbackSilence(p, 256, maxReq), nil
	}

	pulled, n := s.fillFrames(p, want)
	if pulled == 0 {
		return s.fallbackSilence(p, 128, maxReq), nil
	}
	s.lastWant, s.lastPulled = pulled, pulled
	return n, nil
}

// waitForFrames blocks briefly for buffered audio to arrive when the buffer
// is currently empty, and otherwise returns whatever is already available
// (clamped to maxReq).
func (s *apuStream) waitForFrames(maxReq int) int {
	waitDur := 15 * time.Millisecond
	if s.lowLatency {
		waitDur = 8 * time.Millisecond
	}
	if buf := s.m.APUBufferedStereo(); buf > 0 {
		if buf < maxReq {
			return buf
		}
		return maxReq
	}
	deadline := time.Now().Add(waitDur)
	for time.Now().Before(deadline) {
		if b := s.m.APUBufferedStereo(); b > 0 {
			if b > maxReq {
				b = maxReq
			}
			return b
		}
		time.Sleep(1 * time.Millisecond)
	}
	return 0
}

// fillFrames pulls up to want stereo frames and converts them into p,
// returning the frame count and byte count actually written.
func (s *apuStream) fillFrames(p []byte, want int) (int, int) {
	pulled, i := 0, 0
	for pulled < want {
		frames := s.m.APUPullStereo(want - pulled)
		if len(frames) == 0 {
			break
		}
		for j := 0; j+1 < len(frames) && i+bytesPerFrame-1 < len(p); j += 2 {
			l, r := int16(frames[j]), int16(frames[j+1])
			if s.mono {
				mix := int16((int32(l) + int32(r)) / 2)
				binary.LittleEndian.PutUint16(p[i:], uint16(mix))
				binary.LittleEndian.PutUint16(p[i+2:], uint16(mix))
			} else {
				binary.LittleEndian.PutUint16(p[i:], uint16(l))
				binary.LittleEndian.PutUint16(p[i+2:], uint16(r))
			}
			i += bytesPerFrame
			pulled++
		}
	}
	return pulled, i
}

// fallbackSilence counts an underrun and writes up to `want` frames of
// silence, capped by maxReq and by the destination buffer's capacity.
func (s *apuStream) fallbackSilence(p []byte, want, maxReq int) int {
	if want > maxReq {
		want = maxReq
	}
	n := 0
	for i := 0; i < want*bytesPerFrame && i+bytesPerFrame-1 < len(p); i += bytesPerFrame {
		binary.LittleEndian.PutUint16(p[i:], 0)
		binary.LittleEndian.PutUint16(p[i+2:], 0)
		n += bytesPerFrame
	}
	s.underruns++
	s.lastWant, s.lastPulled = want, want
	return n
}

func clearSilence(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
