package ffmpeg

import (
	"context"
	"strings"
	"sync"

	"github.com/smazurov/camkeeper/internal/logging"
	"github.com/smazurov/camkeeper/internal/process"
)

// Runner runs an ffmpeg or ffprobe command to completion and returns its
// stdout. A non-zero exit is reported as *ExitError.
type Runner interface {
	Run(ctx context.Context, id, command string) (string, error)
}

// tailLines is how many stderr lines an ExitError keeps.
const tailLines = 8

// ProcessRunner runs commands as managed subprocesses.
type ProcessRunner struct {
	logger    logging.Logger
	ffmpegLog logging.Logger
}

// NewProcessRunner creates a runner. ffmpegLog receives the parsed tool output.
func NewProcessRunner(logger, ffmpegLog logging.Logger) *ProcessRunner {
	return &ProcessRunner{logger: logger, ffmpegLog: ffmpegLog}
}

// Run implements Runner.
func (r *ProcessRunner) Run(ctx context.Context, id, command string) (string, error) {
	var (
		mu     sync.Mutex
		stdout strings.Builder
		tail   []string
	)
	handler := process.OutputHandlerFunc(func(source, line string) {
		mu.Lock()
		defer mu.Unlock()
		if source == "stdout" {
			stdout.WriteString(line)
			stdout.WriteByte('\n')
			return
		}
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
	})

	p := process.NewProcess(id, command, r.logger,
		process.WithOutputHandler(handler),
		process.WithLogParser(r.ffmpegLog, quietParser),
	)
	code := p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if code != 0 {
		return stdout.String(), &ExitError{Command: command, Code: code, Tail: tail}
	}
	if err := ctx.Err(); err != nil {
		return stdout.String(), err
	}
	return stdout.String(), nil
}

// quietParser demotes unprefixed lines (stdout payloads such as probe JSON
// or segment lists) to debug.
func quietParser(line string) (level, msg string) {
	if !strings.HasPrefix(line, "[") {
		return "debug", line
	}
	return ParseLogLevel(line)
}
