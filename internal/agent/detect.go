package agent

import (
	"errors"
	"os/exec"
)

// ErrNoAgent is returned when no supported agent CLI is on PATH.
var ErrNoAgent = errors.New("no agent found on PATH (install claude or amp, or set agent.command)")

// Detected is a resolved agent command line.
type Detected struct {
	Name    string
	Command string
	Args    []string
}

// known agents in preference order.
var known = []Detected{
	{Name: "claude", Command: "claude", Args: []string{"--print", "--dangerously-skip-permissions"}},
	{Name: "amp", Command: "amp", Args: []string{"--execute"}},
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Detect returns the first supported agent found on PATH.
func Detect() (Detected, error) {
	for _, k := range known {
		path, err := lookPath(k.Command)
		if err != nil {
			continue
		}
		d := k
		d.Command = path
		d.Args = append([]string(nil), k.Args...)
		return d, nil
	}
	return Detected{}, ErrNoAgent
}
