// Command flowctl checks flow catalogs and dry-runs routing, so chain
// authors catch configuration errors before a deploy.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}
