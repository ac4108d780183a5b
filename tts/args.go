package tts

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Flags the operator must not smuggle in through TTS_EXTRA_ARGS: the output
// location belongs to the task runner, which derives it from the task key.
var reservedFlags = map[string]bool{
	"--output":     true,
	"--output-dir": true,
	"-o":           true,
}

// SplitArgs securely splits an argument string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return args, nil
}

// ValidateArgs checks the split extra arguments for potential security risks.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		// exec.Command never invokes a shell, but shell metacharacters in
		// pass-through args are a misconfiguration worth rejecting early.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}

		if reservedFlags[arg] {
			return fmt.Errorf("argument %s is reserved and set per task", arg)
		}
	}
	return nil
}
