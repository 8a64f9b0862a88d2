package main

import (
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"

	"compliance-ledger/internal/domain"
)

func newAddressCmd() *cobra.Command {
	var showKey bool

	cmd := &cobra.Command{
		Use:   "address <label>...",
		Short: "Print the deterministic address derived from each label",
		Long: "Print the deterministic address derived from each label. The same labels seed the " +
			"default deployment roles, so a development setup can sign requests without managing keys.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, label := range args {
				if !showKey {
					fmt.Fprintf(w, "%s\t%s\n", label, domain.DeriveAddress(label))
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", label, domain.DeriveAddress(label), base58.Encode(domain.DeriveKey(label)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showKey, "private-key", false, "also print the base58 private key")
	return cmd
}
