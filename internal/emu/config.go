package emu

// Config contains settings for a Machine, set once at construction. Only
// SampleRate is read (by LoadCartridge); Trace and LimitFPS are stored but
// not read by the Machine.
type Config struct {
	Trace    bool // CPU trace flag; the Machine prints no instruction trace
	LimitFPS bool // ~60 Hz throttle flag; the Machine does not throttle

	// SampleRate is the APU's output mixing rate. Zero means "use the
	// bus package's 48kHz default" -- most front ends never need to set
	// this explicitly.
	SampleRate int
}
