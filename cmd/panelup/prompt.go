package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var stdin = bufio.NewReader(os.Stdin)

// readSecret prompts on stderr and reads a line without echo when stdin is
// a terminal. Piped input is read as a plain line.
func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return string(b), nil
	}

	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readNewSecret asks twice and requires both answers to match.
func readNewSecret(what string) (string, error) {
	first, err := readSecret(fmt.Sprintf("New %s: ", what))
	if err != nil {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("%s must not be empty", what)
	}
	second, err := readSecret(fmt.Sprintf("Confirm %s: ", what))
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%s entries do not match", what)
	}
	return first, nil
}
