package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Player plays a single sound file to completion.
type Player interface {
	Play(ctx context.Context, file string, volume float64) error
}

// ExecPlayer shells out to an external audio command. The command template
// may reference {file} and {volume}; when no {file} token is present the file
// path is appended as the final argument.
type ExecPlayer struct {
	Command []string
}

func (p *ExecPlayer) Play(ctx context.Context, file string, volume float64) error {
	if len(p.Command) == 0 {
		return errors.New("no player command configured")
	}

	volumeText := strconv.FormatFloat(volume, 'f', -1, 64)
	argv := make([]string, 0, len(p.Command)+1)
	sawFile := false
	for _, arg := range p.Command {
		if strings.Contains(arg, "{file}") {
			sawFile = true
		}
		arg = strings.ReplaceAll(arg, "{file}", file)
		arg = strings.ReplaceAll(arg, "{volume}", volumeText)
		argv = append(argv, arg)
	}
	if !sawFile {
		argv = append(argv, file)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("play %s: %w", file, err)
	}
	return nil
}
