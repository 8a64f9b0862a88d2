// Command ledgerd serves a compliance-gated token and its token sale over HTTP.
//
// Usage:
//
//	ledgerd serve --config ledger.yaml
//	ledgerd migrate --config ledger.yaml
//	ledgerd status --config ledger.yaml
//	ledgerd address <label>
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
