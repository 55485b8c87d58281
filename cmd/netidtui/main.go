package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/matheus3301/netid/internal/lock"
	"github.com/matheus3301/netid/internal/profile"
	"github.com/matheus3301/netid/internal/tui"
	"github.com/matheus3301/netid/internal/tui/client"
)

const readyTimeout = 10 * time.Second

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	noStart := flag.Bool("no-start", false, "fail instead of starting netidd when it is not running")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := profile.SocketPath(profileName)
	if err := ensureDaemon(profileName, socketPath, !*noStart); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to daemon: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if err := tui.NewApp(c, profileName).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// ensureDaemon returns once a daemon answers Status on socketPath. A daemon
// that holds the profile lock but is still starting is waited for rather
// than started twice.
func ensureDaemon(profileName, socketPath string, start bool) error {
	if probeDaemon(socketPath) {
		return nil
	}

	if h, held := lock.Held(profile.Dir(profileName)); held {
		fmt.Fprintf(os.Stderr, "waiting for netidd (pid %d) on profile %q...\n", h.PID, profileName)
	} else {
		if !start {
			return fmt.Errorf("daemon not running for profile %q", profileName)
		}
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", profileName)
		if err := startDaemon(profileName); err != nil {
			return fmt.Errorf("start daemon: %w", err)
		}
	}

	if !waitForDaemon(socketPath, readyTimeout) {
		return errors.New("daemon did not become ready; see " + profile.LogPath(profileName))
	}
	return nil
}

// probeDaemon reports whether a daemon answers a Status call on the socket.
func probeDaemon(socketPath string) bool {
	c, err := client.New(socketPath)
	if err != nil {
		return false
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = c.Status(ctx)
	return err == nil
}

// startDaemon launches netidd from next to this binary, or from PATH, in its
// own session so it outlives the TUI.
func startDaemon(profileName string) error {
	bin := "netidd"
	if exe, err := os.Executable(); err == nil {
		if sibling := filepath.Join(filepath.Dir(exe), "netidd"); fileExists(sibling) {
			bin = sibling
		}
	}

	// Only fatal startup errors reach the terminal; the TUI owns it afterwards.
	cmd := exec.Command(bin, "--profile", profileName, "--quiet")
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
