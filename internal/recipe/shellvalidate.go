package recipe

import (
	"fmt"
	"strings"
)

// unsafeShellTokens lists the substrings spec.md §4.2 forbids in any
// free-form shell string. Order matters only for the error message — the
// first match found is reported.
var unsafeShellTokens = []string{
	"|", ";", "&&", "||", "$(", "`", ">", "<", "&",
}

// ValidateShellCommand rejects a shell string containing any of the tokens
// enumerated in spec.md §4.2. It is applied to shell.command,
// shell.stop_command, and script health-check commands at load time.
func ValidateShellCommand(command string) error {
	for _, tok := range unsafeShellTokens {
		if strings.Contains(command, tok) {
			return fmt.Errorf("%w: command contains %q; use a pixi task instead of shell metacharacters", ErrUnsafeShell, tok)
		}
	}
	return nil
}
