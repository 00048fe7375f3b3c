package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// ModuleAuction names the auction lifecycle for pause checks.
const ModuleAuction = "auction"

type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when module is paused in p. A nil view never
// blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a PauseView keyed by module name.
type PauseSet map[string]bool

func (s PauseSet) IsPaused(module string) bool { return s[module] }
