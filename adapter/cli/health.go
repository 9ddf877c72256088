package cli

import (
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/beacon/pkg/observability"
)

// ErrUnhealthy is returned when the agent reports itself unhealthy.
var ErrUnhealthy = errors.New("agent unhealthy")

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the running agent's health",
	RunE: func(cmd *cobra.Command, args []string) error {
		var health observability.OverallHealth
		if _, err := newAPIClient(agentAddr, correlationID(cmd)).getJSON(cmd.Context(), "/readyz", &health); err != nil {
			return err
		}
		printHealth(cmd.OutOrStdout(), health)
		if health.Status == observability.HealthStatusUnhealthy {
			return ErrUnhealthy
		}
		return nil
	},
}

func printHealth(w io.Writer, h observability.OverallHealth) {
	fmt.Fprintf(w, "status: %s\n", h.Status)
	names := make([]string, 0, len(h.Checks))
	for name := range h.Checks {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := h.Checks[name]
		fmt.Fprintf(w, "  %-10s %-9s %s\n", name, c.Status, c.Message)
	}
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
