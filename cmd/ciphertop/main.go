// cmd/ciphertop is a small read-only terminal dashboard over a running
// cipher instance's management HTTP surface: connection states and the
// unified tool catalog, refreshed on a timer.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xdien/cipher/internal/env"
)

func main() {
	addr := env.GetEnvOrDefault("CIPHERTOP_ADDR", "http://localhost:19842")
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	client := newAPIClient(addr)
	p := tea.NewProgram(newModel(client))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ciphertop: %v\n", err)
		os.Exit(1)
	}
}
