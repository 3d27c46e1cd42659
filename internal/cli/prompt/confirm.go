package prompt

import (
	"fmt"

	"github.com/manifoldco/promptui"
)

// ConfirmDanger requires typing the confirmation word to proceed. Used
// before irreversible operations like erasing the server's files.
func ConfirmDanger(label, confirmWord string) (bool, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s (type '%s' to confirm)", label, confirmWord),
		Validate: func(input string) error {
			if input != confirmWord {
				return fmt.Errorf("type '%s' to confirm", confirmWord)
			}
			return nil
		},
	}

	result, err := p.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return false, ErrAborted
		}
		if err == promptui.ErrAbort {
			return false, nil
		}
		return false, err
	}

	return result == confirmWord, nil
}
