package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var shellCmd = &cobra.Command{
	Use:   "shell [name]",
	Short: "open an interactive shell on a hop",
	Long: `Connects the chain and attaches an interactive PTY shell on the named
endpoint, or the last hop when no name is given. The local terminal is put
into raw mode for the duration of the session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildChain()
		if err != nil {
			return err
		}
		if err := c.Connect(); err != nil {
			return err
		}
		defer c.Disconnect()

		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		fd := int(os.Stdin.Fd())
		width, height := 80, 40
		if term.IsTerminal(fd) {
			if w, h, err := term.GetSize(fd); err == nil {
				width, height = w, h
			}
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("raw mode: %w", err)
			}
			defer term.Restore(fd, state)
		}

		termType := os.Getenv("TERM")
		if termType == "" {
			termType = "xterm-256color"
		}
		return c.InteractiveShell(name, os.Stdin, os.Stdout, os.Stderr, termType, height, width)
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}
