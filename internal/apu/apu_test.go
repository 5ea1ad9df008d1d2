package apu

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	a := New(48000)
	assert.NotNil(t, a)
	assert.True(t, a.enabled)
	assert.Equal(t, byte(0x77), a.nr50)
	assert.Equal(t, byte(0xFF), a.nr51)
}

func TestNewDefaultsSampleRate(t *testing.T) {
	a := New(0)
	assert.Equal(t, 48000, a.sampleRate)
}

func TestCh1TriggerEnablesChannel(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0) // max volume, decreasing envelope
	a.CPUWrite(0xFF14, 0x80) // trigger
	status := a.CPURead(0xFF26)
	assert.NotEqual(t, byte(0), status&0x01)
}

func TestCh2TriggerEnablesChannel(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF17, 0xF0)
	a.CPUWrite(0xFF19, 0x80)
	status := a.CPURead(0xFF26)
	assert.NotEqual(t, byte(0), status&0x02)
}

func TestCh3TriggerRequiresDAC(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF1E, 0x80) // trigger without DAC enabled
	status := a.CPURead(0xFF26)
	assert.Equal(t, byte(0), status&0x04)

	a.CPUWrite(0xFF1A, 0x80) // enable DAC
	a.CPUWrite(0xFF1E, 0x80) // trigger again
	status = a.CPURead(0xFF26)
	assert.NotEqual(t, byte(0), status&0x04)
}

func TestWaveRAMReadWrite(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF30, 0xAB)
	a.CPUWrite(0xFF3F, 0xCD)
	assert.Equal(t, byte(0xAB), a.CPURead(0xFF30))
	assert.Equal(t, byte(0xCD), a.CPURead(0xFF3F))
}

func TestPowerOffClearsChannels(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)
	a.CPUWrite(0xFF26, 0x00) // power off
	assert.False(t, a.enabled)
	status := a.CPURead(0xFF26)
	assert.Equal(t, byte(0), status&0x0F)

	a.CPUWrite(0xFF26, 0x80) // power back on
	assert.True(t, a.enabled)
}

func TestTickProducesStereoSamples(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF13, 0x00)
	a.CPUWrite(0xFF14, 0x87) // trigger, freq hi bits set
	a.Tick(4096)
	assert.True(t, a.StereoAvailable() > 0)
	samples := a.PullStereo(a.StereoAvailable())
	assert.True(t, len(samples)%2 == 0)
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF12, 0xF0)
	a.CPUWrite(0xFF14, 0x80)
	a.Tick(1000)
	data := a.SaveState()
	assert.NotEmpty(t, data)

	b := New(48000)
	b.LoadState(data)
	assert.Equal(t, a.ch1.enabled, b.ch1.enabled)
	assert.Equal(t, a.ch1.freq, b.ch1.freq)
}

func TestCh1SweepOverflowDisablesChannel(t *testing.T) {
	a := New(48000)
	a.CPUWrite(0xFF10, 0x21) // sweep period 2, shift 1, increasing
	a.CPUWrite(0xFF13, 0xFF)
	a.CPUWrite(0xFF14, 0x87) // freq hi=7 -> freq near max, trigger
	status := a.CPURead(0xFF26)
	assert.Equal(t, byte(0), status&0x01)
}
