package main

import (
	"context"
	"fmt"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/ipcring"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/kernel"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func newScenarioCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Replay one or all of the reference IPC/capability scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios := map[string]func() error{
				"derive-strips-grant": scenarioDeriveStripsGrant,
				"revoke-cascade":      scenarioRevokeCascade,
				"ring-ordering":       scenarioRingOrdering,
				"chain-cancel":        scenarioChainCancel,
				"cq-overflow":         scenarioCQOverflow,
			}
			if name != "" {
				fn, ok := scenarios[name]
				if !ok {
					return fmt.Errorf("unknown scenario %q", name)
				}
				return runScenario(name, fn)
			}
			for _, n := range []string{"derive-strips-grant", "revoke-cascade", "ring-ordering", "chain-cancel", "cq-overflow"} {
				if err := runScenario(n, scenarios[n]); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "run a single named scenario instead of all of them")
	return cmd
}

func runScenario(name string, fn func() error) error {
	fmt.Println(titleStyle.Render("▶ " + name))
	if err := fn(); err != nil {
		fmt.Println(failStyle.Render("  FAIL: " + err.Error()))
		return err
	}
	fmt.Println(okStyle.Render("  OK"))
	return nil
}

func scenarioDeriveStripsGrant() error {
	k := kernel.New(nil)
	defer k.Close()
	p := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(p.PID)
	if err != nil {
		return err
	}
	parent, err := k.CapabilityAt(p.PID, slot)
	if err != nil {
		return err
	}
	derived, err := parent.Derive(rights.READ | rights.WRITE | rights.GRANT)
	if err != nil {
		return err
	}
	if derived.Rights.Contains(rights.GRANT) {
		return fmt.Errorf("derived capability unexpectedly retained GRANT")
	}
	return nil
}

func scenarioRevokeCascade() error {
	k := kernel.New(nil)
	defer k.Close()
	a := k.CreateProcess(0)
	b := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(a.PID)
	if err != nil {
		return err
	}
	c1, err := k.CapabilityAt(a.PID, slot)
	if err != nil {
		return err
	}
	c2, err := c1.Derive(rights.SEND | rights.RECEIVE)
	if err != nil {
		return err
	}
	if _, err := k.GrantCapability(b.PID, c2); err != nil {
		return err
	}
	if err := k.Revoke(a.PID, slot); err != nil {
		return err
	}
	if err := c2.Validate(k.Registry()); err == nil {
		return fmt.Errorf("derived capability still validates after revoke")
	}
	return nil
}

func scenarioRingOrdering() error {
	k := kernel.New(nil)
	defer k.Close()
	sender := k.CreateProcess(0)
	receiver := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(sender.PID)
	if err != nil {
		return err
	}
	tok, err := k.CapabilityAt(sender.PID, slot)
	if err != nil {
		return err
	}
	rslot, err := k.GrantCapability(receiver.PID, tok)
	if err != nil {
		return err
	}
	if err := k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 0xa}); err != nil {
		return err
	}
	if err := k.Submit(sender.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, UserData: 0xb}); err != nil {
		return err
	}
	if err := k.Drain(context.Background(), sender.PID); err != nil {
		return err
	}
	if err := k.Submit(receiver.PID, ipcring.SQE{Opcode: ipcring.OpReceive, CapSlot: rslot}); err != nil {
		return err
	}
	if err := k.Submit(receiver.PID, ipcring.SQE{Opcode: ipcring.OpReceive, CapSlot: rslot}); err != nil {
		return err
	}
	if err := k.Drain(context.Background(), receiver.PID); err != nil {
		return err
	}
	c1, ok := receiver.Ring.PopCQ()
	if !ok || c1.Result != 0xa {
		return fmt.Errorf("expected first completion 0xa, got %+v", c1)
	}
	c2, ok := receiver.Ring.PopCQ()
	if !ok || c2.Result != 0xb {
		return fmt.Errorf("expected second completion 0xb, got %+v", c2)
	}
	return nil
}

func scenarioChainCancel() error {
	k := kernel.New(nil)
	defer k.Close()
	p := k.CreateProcess(0)
	slot, err := k.CreateEndpoint(p.PID)
	if err != nil {
		return err
	}
	if err := k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: 999, Flags: ipcring.CHAIN, UserData: 1}); err != nil {
		return err
	}
	if err := k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSend, CapSlot: slot, Flags: ipcring.CHAIN, UserData: 2}); err != nil {
		return err
	}
	if err := k.Drain(context.Background(), p.PID); err != nil {
		return err
	}
	c1, _ := p.Ring.PopCQ()
	if c1.Result >= 0 {
		return fmt.Errorf("expected the invalid-slot entry to fail")
	}
	c2, _ := p.Ring.PopCQ()
	if c2.Flags&ipcring.CANCELLED == 0 {
		return fmt.Errorf("expected the chained entry to be marked cancelled")
	}
	return nil
}

func scenarioCQOverflow() error {
	k := kernel.New(&kernel.Config{ProcTableShards: 4, DefaultCSQuota: 64, DefaultSQSize: 8, DefaultCQSize: 4})
	defer k.Close()
	p := k.CreateProcess(0)
	slot, err := k.CreateNotification(p.PID)
	if err != nil {
		return err
	}
	for i := 0; i < 5; i++ {
		if err := k.Submit(p.PID, ipcring.SQE{Opcode: ipcring.OpSignal, CapSlot: slot, UserData: uint64(i), Params: [4]uint64{1}}); err != nil {
			return err
		}
	}
	if err := k.Drain(context.Background(), p.PID); err != nil {
		return err
	}
	if p.Ring.Flags()&ipcring.CQOverflow == 0 {
		return fmt.Errorf("expected CQ_OVERFLOW to be set after 5 pushes into a 4-entry CQ")
	}
	return nil
}
