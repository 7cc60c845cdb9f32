package main

import (
	"fmt"
	"sort"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/kernel"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Create a process, push a notification, and print the kernel's metrics snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			k := kernel.New(nil)
			defer k.Close()
			p := k.CreateProcess(0)
			slot, err := k.CreateNotification(p.PID)
			if err != nil {
				return err
			}
			if err := k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSignal, CapSlot: slot, Params: [4]uint64{1}}); err != nil {
				return err
			}

			snap := k.Metrics(p.PID)
			keys := make([]string, 0, len(snap))
			for key := range snap {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Printf("%s %v\n", titleStyle.Render(key+":"), snap[key])
			}
			fmt.Println(lipgloss.NewStyle().Faint(true).Render("(submission left undrained on purpose, to show sq_pending)"))
			return nil
		},
	}
}
