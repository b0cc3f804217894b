// Command incrsheet evaluates HCL spreadsheets incrementally.
//
//	incrsheet eval invoice.hcl
//	incrsheet set invoice.hcl qty=5 price=9.5
//	incrsheet watch invoice.hcl --metrics-addr :9090
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
