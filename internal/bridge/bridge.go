// Package bridge mediates between the TUI and external processes: the
// fuzzy finder, the pager, and the OS browser opener. It builds the
// commands and decodes their results; actually suspending and resuming
// the terminal around them is the UI's job (tea.ExecProcess).
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// ErrUnavailable reports that an external executable is not installed.
// The capability is disabled; the host process keeps running.
var ErrUnavailable = errors.New("executable not found")

// ErrCancelled reports that the user dismissed the fuzzy finder.
var ErrCancelled = errors.New("selection cancelled")

const (
	defaultFinder = "fzf"
	defaultPager  = "less"
)

// Candidate is one selectable row handed to the fuzzy finder.
type Candidate struct {
	ID    string
	Label string
}

// Finder wraps one fuzzy-finder invocation. The command reads
// newline-delimited labels on stdin and prints the chosen label on
// stdout; its own interface is drawn on the terminal, which the UI
// relinquishes for the duration.
type Finder struct {
	Cmd        *exec.Cmd
	out        bytes.Buffer
	candidates []Candidate
}

// NewFinder builds a Finder over the candidates. command may carry
// arguments ("fzf --no-sort"); empty uses plain fzf. Returns
// ErrUnavailable when the executable is not on PATH.
func NewFinder(command string, candidates []Candidate) (*Finder, error) {
	name, args, err := resolveCommand(command, defaultFinder)
	if err != nil {
		return nil, err
	}

	var input strings.Builder
	for _, c := range candidates {
		input.WriteString(c.Label)
		input.WriteByte('\n')
	}

	cmd := exec.Command(name, args...)
	cmd.Stdin = strings.NewReader(input.String())

	f := &Finder{Cmd: cmd, candidates: candidates}
	cmd.Stdout = &f.out
	return f, nil
}

// Choice decodes the finder's result after the command has run. runErr
// is the error from running the command; a cancel (fzf exits 1 on no
// match, 130 on interrupt) yields ErrCancelled rather than a failure.
func (f *Finder) Choice(runErr error) (string, error) {
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			switch exitErr.ExitCode() {
			case 1, 130:
				return "", ErrCancelled
			}
		}
		return "", fmt.Errorf("fuzzy finder: %w", runErr)
	}

	chosen := strings.TrimRight(f.out.String(), "\n")
	if chosen == "" {
		return "", ErrCancelled
	}
	for _, c := range f.candidates {
		if c.Label == chosen {
			return c.ID, nil
		}
	}
	return "", fmt.Errorf("fuzzy finder returned unknown label %q", chosen)
}

// Pager wraps one pager invocation over a temp file holding the text.
type Pager struct {
	Cmd  *exec.Cmd
	path string
}

// NewPager writes content to a temp file and builds the pager command
// for it. command defaults to $PAGER, then less -R.
func NewPager(command string, content []byte) (*Pager, error) {
	if strings.TrimSpace(command) == "" {
		command = strings.TrimSpace(os.Getenv("PAGER"))
	}
	fallback := defaultPager
	name, args, err := resolveCommand(command, fallback)
	if err != nil {
		return nil, err
	}
	if name == fallback && len(args) == 0 {
		args = []string{"-R"}
	}

	file, err := os.CreateTemp("", "t9s-log-*.txt")
	if err != nil {
		return nil, fmt.Errorf("create log temp file: %w", err)
	}
	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("write log temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("close log temp file: %w", err)
	}

	cmd := exec.Command(name, append(args, file.Name())...)
	return &Pager{Cmd: cmd, path: file.Name()}, nil
}

// Cleanup removes the temp file once the pager has exited.
func (p *Pager) Cleanup() {
	if p.path != "" {
		_ = os.Remove(p.path)
	}
}

// OpenBrowser asks the OS to open url in the default browser. The
// opener runs detached; failures are reported, never fatal.
func OpenBrowser(url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("no web url available")
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open browser: %w", err)
	}
	// Reap the opener in the background; its exit status is not
	// meaningful to us.
	go func() { _ = cmd.Wait() }()
	return nil
}

// resolveCommand splits a command string into executable and arguments
// and verifies the executable exists on PATH.
func resolveCommand(command, fallback string) (string, []string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		fields = []string{fallback}
	}
	name := fields[0]
	if _, err := exec.LookPath(name); err != nil {
		return "", nil, fmt.Errorf("%q: %w", name, ErrUnavailable)
	}
	return name, fields[1:], nil
}
