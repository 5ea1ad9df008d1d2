package ui

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gbcore/dmgemu/internal/emu"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// App is the ebiten game loop driving one emu.Machine: input, pacing, the
// save-state/ROM-picker/settings overlay, and audio playback.
type App struct {
	cfg     Config
	m       *emu.Machine
	tex     *ebiten.Image
	paused  bool
	fast    bool
	turbo   int  // turbo speed multiplier (1=off)
	skipOn  bool // whether to skip rendering frames
	skipN   int  // render 1 of (skipN+1) frames
	skipCtr int  // counter for frame skip

	lastTime   time.Time
	frameAcc   float64 // accumulated fractional frames
	audioMuted bool

	audioCtx    *audio.Context
	audioPlayer *audio.Player
	audioSrc    *apuStream // for stats overlay

	showMenu  bool
	menuIdx   int    // selection index for current menu
	menuMode  string // "main" | "slot" | "rom" | "keys" | "settings"
	showStats bool   // debug: show audio buffer stats

	targetFrames int // desired stereo frames in buffer, for adaptive buffering
	stableTicks  int // ticks since last underrun

	currentSlot int // 0..3

	romList []string
	romSel  int
	romOff  int // scroll offset for ROM list

	keysOff int // scroll offset for keybindings

	editingROMDir bool
	romDirInput   string
	settingsOff   int // scroll offset for settings list

	// curW/curH is the logical screen size handed back by Layout.
	curW, curH int

	// shellImg is the decorative overlay drawn above the game view when
	// cfg.ShellOverlay is set; shellList/shellIdx track the skins found
	// alongside it for cycling in the settings menu.
	shellImg  *ebiten.Image
	shellList []string
	shellIdx  int

	toastMsg   string
	toastUntil time.Time
}

func NewApp(cfg Config, m *emu.Machine) *App {
	cfg = loadSettings(cfg)
	cfg.Defaults()
	a := &App{cfg: cfg, m: m, curW: 160, curH: 144}
	a.applyWindowSize()
	a.lastTime = time.Now()
	a.turbo = 1
	a.audioCtx = audio.NewContext(48000)
	a.targetFrames = (cfg.AudioBufferMs * 48000) / 1000
	a.romDirInput = cfg.ROMsDir

	if m != nil && m.ROMPath() == "" {
		a.showMenu = true
		a.menuMode = "rom"
		a.romList = a.findROMs()
	}
	if m != nil && m.ROMPath() != "" {
		a.setWindowTitleForROM()
	}
	if cfg.ShellOverlay {
		a.loadShell()
	}
	return a
}

func (a *App) Run() error { return ebiten.RunGame(a) }

// SaveSettings persists current settings to disk.
func (a *App) SaveSettings() { a.saveSettings() }

func (a *App) setWindowTitleForROM() {
	title := a.cfg.Title
	if t := a.m.ROMTitle(); t != "" {
		title = a.cfg.Title + " - [" + t + "]"
	}
	ebiten.SetWindowTitle(title)
}

// applyWindowSize resizes the OS window to match the configured integer
// scale; the logical game canvas itself (returned by Layout) never changes.
func (a *App) applyWindowSize() {
	ebiten.SetWindowTitle(a.cfg.Title)
	ebiten.SetWindowSize(a.curW*a.cfg.Scale, a.curH*a.cfg.Scale)
}

// loadShell decodes the configured overlay image and rescans its directory
// for sibling skins. Failure to load just leaves the overlay undrawn.
func (a *App) loadShell() {
	a.shellList = findSkins(filepath.Dir(a.cfg.ShellImage))
	for i, p := range a.shellList {
		if p == a.cfg.ShellImage {
			a.shellIdx = i
		}
	}
	f, err := os.Open(a.cfg.ShellImage)
	if err != nil {
		a.shellImg = nil
		return
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		a.shellImg = nil
		return
	}
	a.shellImg = ebiten.NewImageFromImage(img)
}

func findSkins(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".png") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out
}

func (a *App) Update() error {
	if a.audioPlayer == nil {
		a.audioMuted = true
		a.m.APUClearAudioLatency()
		a.audioSrc = &apuStream{m: a.m, mono: !a.cfg.AudioStereo, muted: &a.audioMuted, lowLatency: a.cfg.AudioLowLatency}
		if p, err := a.audioCtx.NewPlayer(a.audioSrc); err == nil {
			a.audioPlayer = p
			a.applyPlayerBufferSize()
			a.audioPlayer.Play()
		}
	}

	a.readInputButtons()
	a.handleGlobalHotkeys()

	muted := a.paused || a.showMenu
	if muted != a.audioMuted {
		a.audioMuted = muted
		a.lastTime = time.Now()
		a.frameAcc = 0
		if a.m != nil {
			a.m.APUClearAudioLatency()
		}
	}

	if a.showMenu {
		a.updateMenu()
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		_ = a.saveScreenshot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF8) {
		a.showStats = !a.showStats
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF10) {
		a.cfg.ShellOverlay = !a.cfg.ShellOverlay
		if a.cfg.ShellOverlay && a.shellImg == nil {
			a.loadShell()
		}
		a.saveSettings()
	}

	if a.m != nil && a.m.IsCGBCompat() {
		if inpututil.IsKeyJustPressed(ebiten.KeyBracketLeft) {
			a.cyclePalette(-1)
		}
		if inpututil.IsKeyJustPressed(ebiten.KeyBracketRight) {
			a.cyclePalette(+1)
		}
	}

	a.stepEmulation()
	return nil
}

// readInputButtons maps keyboard state onto the joypad the machine reads,
// unless the overlay menu currently has input focus.
func (a *App) readInputButtons() {
	if a.showMenu {
		a.m.SetButtons(emu.Buttons{})
		return
	}
	a.m.SetButtons(emu.Buttons{
		Right:  ebiten.IsKeyPressed(ebiten.KeyRight),
		Left:   ebiten.IsKeyPressed(ebiten.KeyLeft),
		Up:     ebiten.IsKeyPressed(ebiten.KeyUp),
		Down:   ebiten.IsKeyPressed(ebiten.KeyDown),
		A:      ebiten.IsKeyPressed(ebiten.KeyZ),
		B:      ebiten.IsKeyPressed(ebiten.KeyX),
		Start:  ebiten.IsKeyPressed(ebiten.KeyEnter),
		Select: ebiten.IsKeyPressed(ebiten.KeyShiftRight),
	})
}

// handleGlobalHotkeys processes the keys that work regardless of menu state:
// pause, turbo, frame-skip, resets, fullscreen, save slots, fast-forward.
func (a *App) handleGlobalHotkeys() {
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}
	prevFast := a.fast
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)
	if inpututil.IsKeyJustPressed(ebiten.KeyF6) {
		if a.turbo > 1 {
			a.turbo--
		}
		a.toast(fmt.Sprintf("Turbo: x%d", a.turbo))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF7) {
		if a.turbo < 10 {
			a.turbo++
		}
		a.toast(fmt.Sprintf("Turbo: x%d", a.turbo))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF4) {
		a.skipOn = !a.skipOn
		a.toast(fmt.Sprintf("Frame skip: %v", map[bool]string{true: "On", false: "Off"}[a.skipOn]))
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyR) {
		a.m.ResetPostBoot()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyB) {
		a.m.ResetWithBoot()
	}
	if !a.showMenu && a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.m.StepFrame()
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.showMenu = !a.showMenu
		if a.showMenu {
			a.menuMode = "main"
			a.menuIdx = 0
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF11) {
		ebiten.SetFullscreen(!ebiten.IsFullscreen())
	}
	for i, k := range []ebiten.Key{ebiten.Key1, ebiten.Key2, ebiten.Key3, ebiten.Key4} {
		if inpututil.IsKeyJustPressed(k) {
			a.currentSlot = i
			a.toast(fmt.Sprintf("Slot set to %d", i+1))
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		if err := a.saveSlot(a.currentSlot); err == nil {
			a.toast(fmt.Sprintf("Saved slot %d", a.currentSlot+1))
		} else {
			a.toast("Save failed: " + err.Error())
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		if _, err := os.Stat(a.statePath(a.currentSlot)); err != nil {
			a.toast("Slot is empty")
		} else if err := a.loadSlot(a.currentSlot); err == nil {
			a.toast(fmt.Sprintf("Loaded slot %d", a.currentSlot+1))
		} else {
			a.toast("Load failed: " + err.Error())
		}
	}

	if a.m != nil && prevFast != a.fast {
		if a.fast {
			a.m.APUCapBufferedStereo(1920) // trim to ~40ms at 48kHz
		} else {
			a.m.APUClearAudioLatency()
		}
		a.applyPlayerBufferSize()
	}
}

// updateMenu dispatches per-mode input handling for the overlay menu.
func (a *App) updateMenu() {
	switch a.menuMode {
	case "main":
		a.updateMainMenu()
	case "slot":
		a.updateSlotMenu()
	case "rom":
		a.updateRomMenu()
	case "keys":
		a.updateKeysMenu()
	case "settings":
		a.updateSettingsMenu()
	}
}

// stepEmulation paces the machine at the real DMG frame rate using a time
// accumulator, independent of ebiten's own refresh rate, and retunes the
// adaptive audio buffer target.
func (a *App) stepEmulation() {
	if a.showMenu || a.paused {
		return
	}
	now := time.Now()
	dt := now.Sub(a.lastTime).Seconds()
	if dt < 0 {
		dt = 0
	}
	a.lastTime = now
	const gbFPS = 4194304.0 / 70224.0 // ~59.7275
	speed := 1.0
	if a.fast {
		speed = float64(max(2, a.turbo))
	}
	a.frameAcc += dt * gbFPS * speed

	steps := 0
	for a.frameAcc >= 1.0 && steps < 10 { // cap to avoid a spiral of death
		doRender := true
		if a.skipOn {
			if a.skipCtr < a.skipN {
				doRender = false
				a.skipCtr++
			} else {
				a.skipCtr = 0
			}
		}
		if doRender {
			a.m.StepFrame()
		} else {
			a.m.StepFrameNoRender()
		}
		a.frameAcc -= 1.0
		steps++
	}

	a.retuneAudioBuffer()
}

func (a *App) retuneAudioBuffer() {
	if a.cfg.AudioAdaptive && a.audioSrc != nil && !a.cfg.AudioLowLatency {
		maxFrames := 48000 * 200 / 1000 // ~200ms ceiling
		if a.targetFrames > maxFrames {
			a.targetFrames = maxFrames
		}
		if a.audioSrc.underruns > 0 {
			a.stableTicks = 0
			a.targetFrames += 800
			if a.targetFrames > maxFrames {
				a.targetFrames = maxFrames
			}
			a.audioSrc.underruns = 0
		} else {
			a.stableTicks++
			if a.stableTicks > 90 {
				minFrames := 48000 * 40 / 1000 // ~40ms
				a.targetFrames -= 400
				if a.targetFrames < minFrames {
					a.targetFrames = minFrames
				}
				a.stableTicks = 0
			}
		}
	}

	target := a.targetFrames
	if a.cfg.AudioLowLatency {
		target = 48000 * 35 / 1000 // ~35ms
	}
	if a.fast {
		if ffTarget := 48000 * 30 / 1000; target > ffTarget { // ~30ms while fast-forwarding
			target = ffTarget
		}
	}
	buffered := a.m.APUBufferedStereo()
	if a.audioMuted && buffered > 1024 { // ~20ms
		a.audioMuted = false
	}
	if a.cfg.AudioLowLatency {
		if ceiling := target + 48000*10/1000; buffered > ceiling {
			a.m.APUCapBufferedStereo(ceiling)
		}
	}
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(160, 144)
	}
	a.tex.WritePixels(a.m.Framebuffer())
	screen.DrawImage(a.tex, nil)

	if a.cfg.ShellOverlay && a.shellImg != nil {
		screen.DrawImage(a.shellImg, nil)
	}

	if a.showStats {
		a.drawStatsOverlay(screen)
	}
	if a.toastMsg != "" && time.Now().Before(a.toastUntil) {
		msg := a.truncateText(a.toastMsg, a.maxCharsForText(6))
		ebitenutil.DebugPrintAt(screen, msg, 6, 4)
	}

	if a.showMenu {
		overlay := ebiten.NewImage(a.curW, a.curH)
		overlay.Fill(color.RGBA{0, 0, 0, 140})
		screen.DrawImage(overlay, nil)
		switch a.menuMode {
		case "main":
			a.drawMainMenu(screen)
		case "slot":
			a.drawSlotMenu(screen)
		case "rom":
			a.drawRomMenu(screen)
		case "keys":
			a.drawKeysMenu(screen)
		case "settings":
			a.drawSettingsMenu(screen)
		}
	}
}

func (a *App) drawStatsOverlay(screen *ebiten.Image) {
	bf := a.m.APUBufferedStereo()
	ms := (bf * 1000) / 48000
	und, lp, lw := 0, 0, 0
	if a.audioSrc != nil {
		und = a.audioSrc.underruns
		lp = a.audioSrc.lastPulled
		lw = a.audioSrc.lastWant
	}
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("Buf: %d (~%dms)", bf, ms), 4, 4)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("Under: %d  Read: %d/%d", und, lp, lw), 4, 18)
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("Turbo: x%d  Skip: %v", a.turbo, a.skipOn), 4, 32)
}

// toast displays a short message at the top-left.
func (a *App) toast(msg string) {
	a.toastMsg = msg
	a.toastUntil = time.Now().Add(2 * time.Second)
}

// findROMs returns a sorted, de-duplicated list of ROM file paths from the
// configured ROMs directory, tried both exe-relative and CWD-relative.
func (a *App) findROMs() []string {
	var files []string
	addFrom := func(dir string) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ln := strings.ToLower(e.Name())
			if strings.HasSuffix(ln, ".gb") || strings.HasSuffix(ln, ".gbc") {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
	}
	exe, _ := os.Executable()
	roms := a.cfg.ROMsDir
	if filepath.IsAbs(roms) {
		addFrom(roms)
	} else {
		addFrom(filepath.Join(filepath.Dir(exe), roms))
		addFrom(roms)
	}
	sort.Strings(files)
	uniq := files[:0]
	seen := map[string]bool{}
	for _, p := range files {
		if seen[p] {
			continue
		}
		seen[p] = true
		uniq = append(uniq, p)
	}
	return uniq
}

// --- Settings persistence ---

func settingsPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		d := filepath.Join(dir, "gbemu")
		_ = os.MkdirAll(d, 0755)
		return filepath.Join(d, "settings.json")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "gbemu_settings.json")
}

func loadSettings(override Config) Config {
	var cfg Config
	if b, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(b, &cfg)
	}
	if override.Title != "" {
		cfg.Title = override.Title
	}
	if override.Scale != 0 {
		cfg.Scale = override.Scale
	}
	if override.AudioBufferMs != 0 {
		cfg.AudioBufferMs = override.AudioBufferMs
	}
	if override.ROMsDir != "" {
		cfg.ROMsDir = override.ROMsDir
	}
	cfg.AudioStereo = override.AudioStereo || cfg.AudioStereo
	cfg.AudioAdaptive = override.AudioAdaptive || cfg.AudioAdaptive
	cfg.AudioLowLatency = override.AudioLowLatency || cfg.AudioLowLatency
	if override.ShellOverlay {
		cfg.ShellOverlay = true
	}
	if override.ShellImage != "" {
		cfg.ShellImage = override.ShellImage
	}
	if cfg.Title == "" && override.Title == "" {
		cfg.Title = "gbemu"
	}
	return cfg
}

func (a *App) saveSettings() {
	if a == nil {
		return
	}
	b, _ := json.MarshalIndent(a.cfg, "", "  ")
	_ = os.WriteFile(settingsPath(), b, 0644)
}

// --- Save states (per-ROM, per-slot) ---

func (a *App) statePath(slot int) string {
	base := "unknown"
	if a.m != nil && a.m.ROMPath() != "" {
		base = a.m.ROMPath()
	}
	return filepath.Join(filepath.Dir(base), fmt.Sprintf("%s.slot%d.savestate", filepath.Base(base), slot))
}

func (a *App) saveSlot(slot int) error { return a.m.SaveStateToFile(a.statePath(slot)) }
func (a *App) loadSlot(slot int) error { return a.m.LoadStateFromFile(a.statePath(slot)) }

func (a *App) Layout(outW, outH int) (int, int) { return a.curW, a.curH }

// maxCharsForText estimates how many characters fit on a line starting at
// left margin x, at ~6px per character for the debug font.
func (a *App) maxCharsForText(left int) int {
	w := a.curW - left - 4
	if w < 6 {
		return 1
	}
	return w / 6
}

// truncateText trims s to fit within max characters, appending "..." when truncated.
func (a *App) truncateText(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// wrapText wraps a string into lines no longer than max characters, breaking at spaces when possible.
func (a *App) wrapText(s string, max int) []string {
	if max <= 0 {
		return []string{""}
	}
	var lines []string
	for len(s) > 0 {
		if len(s) <= max {
			lines = append(lines, s)
			break
		}
		cut := -1
		for i := max; i >= 0 && i < len(s); i-- {
			if s[i] == ' ' {
				cut = i
				break
			}
			if i == 0 {
				break
			}
		}
		if cut <= 0 {
			lines = append(lines, s[:max])
			s = s[max:]
			continue
		}
		lines = append(lines, strings.TrimRight(s[:cut], " "))
		s = strings.TrimLeft(s[cut+1:], " ")
	}
	return lines
}

func (a *App) saveScreenshot() error {
	fb := a.m.Framebuffer()
	img := &image.RGBA{
		Pix:    make([]byte, len(fb)),
		Stride: 4 * 160,
		Rect:   image.Rect(0, 0, 160, 144),
	}
	copy(img.Pix, fb)
	name := fmt.Sprintf("screenshot_%s.png", time.Now().Format("20060102_150405"))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
