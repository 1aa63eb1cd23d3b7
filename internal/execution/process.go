package execution

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Process is a started engine process
type Process interface {
	Wait() error
}

// Starter starts name with args in dir and returns without waiting for it.
type Starter func(dir, name string, args ...string) (Process, error)

// ExecStarter runs the engine as a child process, sending its output to LogFile.
func ExecStarter(dir, name string, args ...string) (Process, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", name, err)
	}

	logFile, err := os.Create(filepath.Join(dir, LogFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, err
	}
	return &execProcess{cmd: cmd, log: logFile}, nil
}

type execProcess struct {
	cmd *exec.Cmd
	log *os.File
}

func (p *execProcess) Wait() error {
	defer func() { _ = p.log.Close() }()
	return p.cmd.Wait()
}
