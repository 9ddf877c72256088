package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/beacon/internal/agent/datacoll"
	"github.com/felixgeelhaar/beacon/internal/agent/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect server sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List sessions of the running agent",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []session.Info
		if _, err := newAPIClient(agentAddr, correlationID(cmd)).getJSON(cmd.Context(), "/v1/sessions", &list); err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), list)
		return nil
	},
}

var parametersCmd = &cobra.Command{
	Use:   "parameters",
	Short: "Inspect pushed parameter values",
}

var parametersListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List the latest pushed values",
	Aliases: []string{"ls"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []datacoll.Value
		if _, err := newAPIClient(agentAddr, correlationID(cmd)).getJSON(cmd.Context(), "/v1/parameters", &list); err != nil {
			return err
		}
		printParameters(cmd.OutOrStdout(), list)
		return nil
	},
}

func printSessions(w io.Writer, list []session.Info) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No sessions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERVER\tADDRESS\tTRAPS\tSENT\tDROPPED\tCONNECTED")
	for _, s := range list {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%t\t%d\t%d\t%s\n",
			s.ID, s.ServerID, s.Address, s.CanAcceptTraps, s.Sent, s.Dropped,
			s.ConnectedAt.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func printParameters(w io.Writer, list []datacoll.Value) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No values pushed.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVALUE\tTYPE\tUPDATED")
	for _, v := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			v.Name, v.Value, v.DataType, v.Timestamp.Local().Format(time.DateTime))
	}
	_ = tw.Flush()
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	parametersCmd.AddCommand(parametersListCmd)
	rootCmd.AddCommand(sessionsCmd, parametersCmd)
}
