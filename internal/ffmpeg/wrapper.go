package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// PixelFormatBGR24 is the packed 3-byte-per-pixel layout frames travel in.
const PixelFormatBGR24 = "bgr24"

const maxStderrLines = 100

// Command represents an FFmpeg command to execute.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	pipeStdin  bool
	pipeStdout bool

	mu      sync.RWMutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	started time.Time

	stderrLogPath string
	stderrDone    chan struct{}
	stderrMu      sync.RWMutex
	stderrLines   []string
}

// CommandBuilder builds FFmpeg commands with a fluent API.
type CommandBuilder struct {
	binary        string
	globalArgs    []string
	inputArgs     []string
	input         string
	filterArgs    []string
	outputArgs    []string
	output        string
	logLevel      string
	overwrite     bool
	stderrLogPath string
}

// NewCommandBuilder creates a new FFmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the FFmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the FFmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner", "-nostdin")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Input sets the input source. Use "pipe:0" to feed frames on stdin.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// RawVideoInput declares stdin as packed BGR24 frames of the given geometry.
func (b *CommandBuilder) RawVideoInput(width, height int, fps float64) *CommandBuilder {
	b.inputArgs = append(b.inputArgs,
		"-f", "rawvideo",
		"-pix_fmt", PixelFormatBGR24,
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
	)
	b.input = "pipe:0"
	return b
}

// VideoFilter adds a video filter.
func (b *CommandBuilder) VideoFilter(filter string) *CommandBuilder {
	b.filterArgs = append(b.filterArgs, filter)
	return b
}

// Scale resizes to width x height with bilinear interpolation.
func (b *CommandBuilder) Scale(width, height int) *CommandBuilder {
	return b.VideoFilter(fmt.Sprintf("scale=%d:%d:flags=bilinear", width, height))
}

// RawVideoOutput writes packed BGR24 frames to stdout.
func (b *CommandBuilder) RawVideoOutput() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-an", "-f", "rawvideo", "-pix_fmt", PixelFormatBGR24)
	b.output = "pipe:1"
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// VideoBitrateKbps sets the target video bitrate in kbit/s.
func (b *CommandBuilder) VideoBitrateKbps(kbps int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:v", strconv.Itoa(kbps)+"k")
	return b
}

// LowLatencyX264 configures libx264 for real-time output with a short GOP.
func (b *CommandBuilder) LowLatencyX264(keyint int) *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-g", strconv.Itoa(keyint),
	)
	return b
}

// MpegtsArgs adds MPEG-TS output arguments.
func (b *CommandBuilder) MpegtsArgs() *CommandBuilder {
	b.outputArgs = append(b.outputArgs,
		"-f", "mpegts",
		"-flush_packets", "1",
	)
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// StderrLogPath sets a file path to write FFmpeg stderr output for debugging.
func (b *CommandBuilder) StderrLogPath(path string) *CommandBuilder {
	b.stderrLogPath = path
	return b
}

// Build builds the command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)
	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)

	if len(b.filterArgs) > 0 {
		args = append(args, "-vf", strings.Join(b.filterArgs, ","))
	}

	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:        b.binary,
		Args:          args,
		Input:         b.input,
		Output:        b.output,
		pipeStdin:     b.input == "pipe:0" || b.input == "-",
		pipeStdout:    b.output == "pipe:1" || b.output == "-",
		stderrLogPath: b.stderrLogPath,
		stderrLines:   make([]string, 0, maxStderrLines),
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start starts the process. Pipes for stdin/stdout are opened when the
// command reads from pipe:0 or writes to pipe:1.
func (c *Command) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return fmt.Errorf("command already started")
	}

	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)

	var err error
	if c.pipeStdin {
		if c.stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("getting stdin pipe: %w", err)
		}
	}
	if c.pipeStdout {
		if c.stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("getting stdout pipe: %w", err)
		}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("getting stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting ffmpeg: %w", err)
	}

	c.cmd = cmd
	c.started = time.Now()
	c.stderrDone = make(chan struct{})
	go c.captureStderr(stderr, c.stderrDone)

	return nil
}

// Stdin returns the process stdin, or nil when the command does not read from a pipe.
func (c *Command) Stdin() io.WriteCloser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdin
}

// Stdout returns the process stdout, or nil when the command does not write to a pipe.
func (c *Command) Stdout() io.ReadCloser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stdout
}

// Wait waits for the command to complete. Stderr is drained first so the
// captured lines are complete when Wait returns.
func (c *Command) Wait() error {
	c.mu.RLock()
	cmd := c.cmd
	done := c.stderrDone
	c.mu.RUnlock()

	if cmd == nil {
		return fmt.Errorf("command not started")
	}

	<-done
	return cmd.Wait()
}

// Kill terminates the FFmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	return cmd.Process.Kill()
}

// Close closes stdin so the encoder flushes, then waits for exit.
func (c *Command) Close() error {
	if stdin := c.Stdin(); stdin != nil {
		_ = stdin.Close()
	}
	return c.Wait()
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}

	return time.Since(c.started)
}

func (c *Command) captureStderr(stderr io.ReadCloser, done chan struct{}) {
	defer close(done)

	var logFile *os.File
	if c.stderrLogPath != "" {
		f, err := os.OpenFile(c.stderrLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err == nil {
			logFile = f
			defer logFile.Close()
			fmt.Fprintf(logFile, "\n=== ffmpeg started at %s ===\n%s\n\n", time.Now().Format(time.RFC3339), c.String())
		}
	}

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()

		c.stderrMu.Lock()
		if len(c.stderrLines) >= maxStderrLines {
			c.stderrLines = c.stderrLines[1:]
		}
		c.stderrLines = append(c.stderrLines, line)
		c.stderrMu.Unlock()

		if logFile != nil {
			fmt.Fprintln(logFile, line)
		}
	}
}

// StderrLines returns the recent stderr lines captured from FFmpeg.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}
