//go:build linux

package input

import "golang.design/x/hotkey"

// modifiers maps combo names to X11 masks; Alt is Mod1 and Super is Mod4
var modifiers = map[string]hotkey.Modifier{
	"ctrl":    hotkey.ModCtrl,
	"control": hotkey.ModCtrl,
	"shift":   hotkey.ModShift,
	"alt":     hotkey.Mod1,
	"super":   hotkey.Mod4,
	"win":     hotkey.Mod4,
}
