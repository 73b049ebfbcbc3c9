package ui

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ErrNotInteractive is returned when a confirmation is needed but stdin is
// not a terminal.
var ErrNotInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

// Interactive reports whether stdin is attached to a terminal.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Confirmer asks before a snapshot is applied over a node's disk.
type Confirmer struct {
	// AssumeYes skips the prompt.
	AssumeYes bool
}

// Confirm asks the operator with a yes/no form.
func (c Confirmer) Confirm(prompt string) (bool, error) {
	if c.AssumeYes {
		return true, nil
	}
	if !Interactive() {
		return false, ErrNotInteractive
	}

	ok := false
	err := huh.NewConfirm().
		Title(fmt.Sprintf("%s %s", IconRewind, prompt)).
		Affirmative("Restore").
		Negative("Skip").
		Value(&ok).
		Run()
	if err != nil {
		return false, err
	}
	return ok, nil
}
