// Package prompt provides interactive terminal prompts for the driftsync
// shell and CLI commands.
package prompt

import (
	"errors"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

// wrapError converts promptui interrupt/abort errors to ErrAborted for
// consistent handling.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

// Line reads one line of input under the given label. An empty line is a
// valid result, not an error.
func Line(label string) (string, error) {
	p := promptui.Prompt{
		Label:     label,
		AllowEdit: true,
	}

	result, err := p.Run()
	return result, wrapError(err)
}
