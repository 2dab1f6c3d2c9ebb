package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sshchain/sshchain"
)

var (
	flagKeyComment string
	flagKeyOut     string
	flagProvision  bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate an ed25519 keypair, optionally installing it on the chain end",
	Long: `Generates an ed25519 keypair and writes <out> and <out>.pub. With
--provision the public key is also appended to ~/.ssh/authorized_keys on the
last hop of the chain, connecting with whatever credentials the chain is
configured with.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pair, err := sshchain.GenerateKeyPair(flagKeyComment)
		if err != nil {
			return err
		}
		if err := os.WriteFile(flagKeyOut, pair.PrivatePEM, 0600); err != nil {
			return fmt.Errorf("write private key: %w", err)
		}
		if err := os.WriteFile(flagKeyOut+".pub", pair.AuthorizedKey, 0644); err != nil {
			return fmt.Errorf("write public key: %w", err)
		}
		fmt.Printf("wrote %s and %s.pub\n", flagKeyOut, flagKeyOut)

		if !flagProvision {
			return nil
		}

		c, err := buildChain()
		if err != nil {
			return err
		}
		if err := c.Connect(); err != nil {
			return err
		}
		defer c.Disconnect()

		st, err := c.Storage()
		if err != nil {
			return err
		}
		if err := sshchain.ProvisionAuthorizedKey(st, pair.AuthorizedKey, ""); err != nil {
			return err
		}
		fmt.Println("public key installed in authorized_keys on the chain end")
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&flagKeyComment, "comment", "", "comment for the public key")
	keygenCmd.Flags().StringVarP(&flagKeyOut, "out", "o", "id_ed25519", "output path for the private key")
	keygenCmd.Flags().BoolVar(&flagProvision, "provision", false, "append the public key to authorized_keys on the chain end")
	rootCmd.AddCommand(keygenCmd)
}
