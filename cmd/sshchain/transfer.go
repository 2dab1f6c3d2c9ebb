package main

import (
	"github.com/spf13/cobra"

	"github.com/sshchain/sshchain"
)

var flagTransferOn string

var uploadCmd = &cobra.Command{
	Use:   "upload <local> <remote>",
	Short: "copy a local file to an endpoint over SFTP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(st *sshchain.Storage) error {
			return st.Upload(args[0], args[1])
		})
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <remote> <local>",
	Short: "copy a file from an endpoint over SFTP",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStorage(func(st *sshchain.Storage) error {
			return st.Download(args[0], args[1])
		})
	},
}

func withStorage(f func(*sshchain.Storage) error) error {
	c, err := buildChain()
	if err != nil {
		return err
	}
	if err := c.Connect(); err != nil {
		return err
	}
	defer c.Disconnect()

	var st *sshchain.Storage
	if flagTransferOn == "" {
		st, err = c.Storage()
	} else {
		st, err = c.Storage(flagTransferOn)
	}
	if err != nil {
		return err
	}
	return f(st)
}

func init() {
	for _, cmd := range []*cobra.Command{uploadCmd, downloadCmd} {
		cmd.Flags().StringVar(&flagTransferOn, "on", "", "endpoint name to transfer with (default: last hop)")
		rootCmd.AddCommand(cmd)
	}
}
