package main

import (
	"fmt"
	"sort"

	"github.com/steveyegge/coord/internal/rpc"
	"github.com/steveyegge/coord/internal/types"
	"github.com/steveyegge/coord/internal/ui"
)

func printHealth(pid int, socket string, h *rpc.HealthResult) {
	icon := ui.RenderPassIcon()
	if h.Status != "healthy" {
		icon = ui.RenderWarnIcon()
	}
	fmt.Printf("%s Daemon %s (PID %d, version %s)\n", icon, h.Status, pid, h.Version)
	fmt.Printf("  socket:       %s\n", socket)
	fmt.Printf("  uptime:       %s\n", formatUptime(h.UptimeSeconds))
	fmt.Printf("  connections:  %d\n", h.Connections)

	fmt.Println()
	fmt.Println(ui.RenderCategory("state"))
	fmt.Printf("  agents:       %s\n", countsLine(h.State.Agents, []types.AgentStatus{types.AgentIdle, types.AgentBusy, types.AgentDead}))
	fmt.Printf("  commands:     %s\n", countsLine(h.State.Commands, []types.CommandStatus{
		types.CommandPending, types.CommandAssigned, types.CommandRunning, types.CommandCompleted, types.CommandFailed,
	}))
	fmt.Printf("  locks:        %d\n", h.State.Locks)
	fmt.Printf("  subscriptions: %d\n", h.State.Subscriptions)

	if len(h.Metrics.Methods) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(ui.RenderCategory("requests"))
	methods := h.Metrics.Methods
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].TotalCount > methods[j].TotalCount })
	for _, m := range methods {
		fmt.Printf("  %-22s %6d  errors %-4d p50 %.2fms  p99 %.2fms\n",
			m.Method, m.TotalCount, m.ErrorCount, m.Latency.P50MS, m.Latency.P99MS)
	}
	if h.Metrics.DroppedEvents > 0 || h.Metrics.RejectedConns > 0 {
		fmt.Printf("  %s dropped events %d, rejected connections %d\n",
			ui.RenderWarnIcon(), h.Metrics.DroppedEvents, h.Metrics.RejectedConns)
	}
}

func countsLine[K ~string](counts map[K]int, order []K) string {
	line := ""
	for _, k := range order {
		if line != "" {
			line += "  "
		}
		line += fmt.Sprintf("%s %d", k, counts[k])
	}
	return line
}

func formatUptime(seconds float64) string {
	if seconds < 60 {
		return fmt.Sprintf("%.1f seconds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", int(seconds/60), int(seconds)%60)
	}
	if seconds < 86400 {
		return fmt.Sprintf("%dh %dm", int(seconds/3600), int(seconds/60)%60)
	}
	return fmt.Sprintf("%dd %dh", int(seconds/86400), int(seconds/3600)%24)
}
