// Command nyxctl is a small operator CLI over an in-process Kernel,
// using a cobra command tree and lipgloss for terminal styling.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nyxctl",
		Short: "Operate an in-process capability-kernel instance",
		Long:  "nyxctl drives the capability/IPC kernel core in-process, for demos and scenario replay.",
	}
	root.AddCommand(newScenarioCmd())
	root.AddCommand(newMetricsCmd())
	root.AddCommand(newDebugCmd())
	return root
}
