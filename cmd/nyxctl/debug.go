package main

import (
	"fmt"
	"sort"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/kernel"
	"github.com/spf13/cobra"
)

func newDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug",
		Short: "Create a couple of processes and dump the kernel's debug probes",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := kernel.New(nil)
			defer k.Close()
			k.CreateProcess(0)
			k.CreateProcess(0)
			if _, err := k.CreateEndpoint(1); err != nil {
				return err
			}

			state := k.DumpState()
			keys := make([]string, 0, len(state))
			for key := range state {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Printf("%s %v\n", titleStyle.Render(key+":"), state[key])
			}
			return nil
		},
	}
}
