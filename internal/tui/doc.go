// Package tui implements the interactive terminal dashboard for a Motion
// gateway and its blinds.
//
// Built on the Bubble Tea framework, the package follows the Elm
// architecture with immutable model updates. Two screens share one
// radio-facing session:
//
//   - Connect: bootstraps the gateway (device list, state, per-blind
//     cache reads) behind a spinner, with retry on failure.
//   - Devices: one table row per blind, and one per rail for dual
//     blinds, driven with single-key commands.
//
// State merges reach the UI through gateway and device callbacks that
// coalesce into a one-slot channel; a re-issued tea.Cmd turns each
// wakeup into a message, so the table follows multicast pushes and
// command acks without polling. When multicast is unavailable the
// dashboard degrades to refresh-on-demand and says so in the header.
//
// Framework components used:
//   - bubbles/table: the device table
//   - bubbles/spinner: connect progress
//   - bubbles/help + bubbles/key: context-sensitive key hints
//   - lipgloss: styling and the shared application container
//
// Usage:
//
//	model, err := tui.NewAppModel(tui.Options{IP: ip, Key: key})
//	if err != nil {
//	    return err
//	}
//	p := tea.NewProgram(model, tea.WithAltScreen())
//	if _, err := p.Run(); err != nil {
//	    return err
//	}
//	model.Shutdown()
package tui
