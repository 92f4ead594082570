package sync

import "fmt"

// Mode selects which legs of a reconciliation cycle run.
type Mode string

// Sync direction modes. The mode is stored verbatim on the session row.
const (
	ModePush          Mode = "push"
	ModePull          Mode = "pull"
	ModeBidirectional Mode = "bidirectional"
)

// validModes is the accepted set for ParseMode.
var validModes = map[Mode]bool{
	ModePush:          true,
	ModePull:          true,
	ModeBidirectional: true,
}

// ParseMode validates a mode string from the CLI or config.
func ParseMode(s string) (Mode, error) {
	mode := Mode(s)
	if !validModes[mode] {
		return "", fmt.Errorf("sync: mode must be one of push, pull, bidirectional; got %q", s)
	}

	return mode, nil
}

// pushes reports whether the push leg runs in this mode.
func (m Mode) pushes() bool {
	return m == ModePush || m == ModeBidirectional
}

// pulls reports whether the pull leg runs in this mode.
func (m Mode) pulls() bool {
	return m == ModePull || m == ModeBidirectional
}
