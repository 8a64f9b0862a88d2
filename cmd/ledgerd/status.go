package main

import (
	"fmt"
	"io"
	"math/big"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"compliance-ledger/internal/config"
	"compliance-ledger/internal/domain"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print token and sale state from persistent storage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if cfg.Storage == config.StorageMemory {
				return errMemoryStorage
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			return printStatus(cmd, a, time.Now())
		},
	}
}

func printStatus(cmd *cobra.Command, a *app, now time.Time) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	tok, err := a.token.State(ctx)
	if err != nil {
		return err
	}
	balances, err := a.token.Balances(ctx)
	if err != nil {
		return err
	}
	transfers, err := a.token.PendingTransfers(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Token %s\n", tok.Address)
	fmt.Fprintf(w, "  owner          %s\n", tok.Owner)
	fmt.Fprintf(w, "  validator      %s\n", tok.Validator)
	fmt.Fprintf(w, "  fee recipient  %s\n", tok.FeeRecipient)
	fmt.Fprintf(w, "  transfer fee   %s\n", comma(tok.TransferFee))
	fmt.Fprintf(w, "  total supply   %s\n", comma(tok.TotalSupply))
	fmt.Fprintf(w, "  holders        %d\n", len(balances))
	fmt.Fprintf(w, "  pending        %d (next nonce %d)\n", len(transfers), tok.CurrentNonce)
	printTopHolders(w, balances, 10)

	st, err := a.sale.State(ctx)
	if err != nil {
		return err
	}
	mints, err := a.sale.PendingMints(ctx)
	if err != nil {
		return err
	}
	start, end := time.UnixMilli(st.StartTime), time.UnixMilli(st.EndTime)

	fmt.Fprintf(w, "Sale %s\n", st.Address)
	fmt.Fprintf(w, "  rate           %s tokens per unit\n", comma(st.Rate))
	fmt.Fprintf(w, "  wallet         %s\n", st.Wallet)
	fmt.Fprintf(w, "  opens          %s (%s)\n", start.UTC().Format(time.RFC3339), humanize.RelTime(start, now, "ago", "from now"))
	fmt.Fprintf(w, "  closes         %s (%s)\n", end.UTC().Format(time.RFC3339), humanize.RelTime(end, now, "ago", "from now"))
	fmt.Fprintf(w, "  finalized      %t\n", st.Finalized)
	fmt.Fprintf(w, "  pending        %d (next nonce %d)\n", len(mints), st.CurrentMintNonce)

	escrow, err := a.vault.Balance(ctx, st.Address)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  escrow         %s\n", comma(escrow))
	return nil
}

func printTopHolders(w io.Writer, balances map[domain.Address]uint64, n int) {
	holders := make([]domain.Address, 0, len(balances))
	for h := range balances {
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool {
		if balances[holders[i]] != balances[holders[j]] {
			return balances[holders[i]] > balances[holders[j]]
		}
		return holders[i] < holders[j]
	})
	if len(holders) > n {
		holders = holders[:n]
	}
	for i, h := range holders {
		fmt.Fprintf(w, "  %s %-44s %s\n", humanize.Ordinal(i+1), h, comma(balances[h]))
	}
}

// comma formats v with thousands separators; amounts may exceed int64.
func comma(v uint64) string {
	return humanize.BigComma(new(big.Int).SetUint64(v))
}
