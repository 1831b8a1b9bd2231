// ghadapter runs a command that prints one JSON object, such as bin/diff, and exposes its fields as
// GitHub Actions step outputs. The command's exit code is preserved so a mismatch still fails the step.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"slices"

	"golang.org/x/xerrors"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: ghadapter <command> [args...]")
	}

	cmd := exec.Command(os.Args[1], os.Args[2:]...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr

	exitCode := 0
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			log.Fatalf("Failed to run %s: %v", os.Args[1], err)
		}
		exitCode = exitErr.ExitCode()
	}
	_, _ = os.Stdout.Write(output)

	if githubOutput := os.Getenv("GITHUB_OUTPUT"); githubOutput != "" && len(output) > 0 {
		f, err := os.OpenFile(githubOutput, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("Failed to open GITHUB_OUTPUT: %v", err)
		}
		if err := writeOutputs(f, output); err != nil {
			log.Printf("Failed to write outputs: %v", err)
		}
		f.Close()
	}

	os.Exit(exitCode)
}

// writeOutputs writes each top-level field as key=value in key order. Nested values stay JSON encoded.
func writeOutputs(w io.Writer, output []byte) error {
	var result map[string]json.RawMessage
	if err := json.Unmarshal(output, &result); err != nil {
		return xerrors.Errorf("failed to parse command output: %w", err)
	}

	keys := make([]string, 0, len(result))
	for key := range result {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		value := string(result[key])
		var s string
		if err := json.Unmarshal(result[key], &s); err == nil {
			value = s
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", key, value); err != nil {
			return xerrors.Errorf("failed to write output %s: %w", key, err)
		}
	}
	return nil
}
