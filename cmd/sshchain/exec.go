package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagOn string

var execCmd = &cobra.Command{
	Use:   "exec -- command [args...]",
	Short: "run a command on a hop and print its output",
	Long: `Connects the chain, runs the command on the endpoint named with --on
(the last hop when omitted) and prints the command's standard output. A
nonzero exit status of the remote command is not an error; only connection
failures are.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildChain()
		if err != nil {
			return err
		}
		if err := c.Connect(); err != nil {
			return err
		}
		defer c.Disconnect()

		command := strings.Join(args, " ")
		var out string
		if flagOn == "" {
			out, err = c.ExecRemote(command, flagVerbose)
		} else {
			out, err = c.Exec(flagOn, command, flagVerbose)
		}
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

func init() {
	execCmd.Flags().StringVar(&flagOn, "on", "", "endpoint name to run on (default: last hop)")
	rootCmd.AddCommand(execCmd)
}
