package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/beacon/internal/agent/problems"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database/postgres"
	_ "github.com/felixgeelhaar/beacon/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/beacon/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/beacon/pkg/config"
)

var problemsFromDB bool

var problemsCmd = &cobra.Command{
	Use:   "problems",
	Short: "Inspect agent problems",
}

var problemsListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List active problems",
	Aliases: []string{"ls"},
	Long: `List the problems raised by subagents, most severe first.

By default the running agent is asked. With --db the local database is read
directly, which works while the agent is stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			list []problems.Problem
			err  error
		)
		if problemsFromDB {
			list, err = problemsFromDatabase(cmd.Context())
		} else {
			_, err = newAPIClient(agentAddr, correlationID(cmd)).getJSON(cmd.Context(), "/v1/problems", &list)
		}
		if err != nil {
			return err
		}
		printProblems(cmd.OutOrStdout(), list)
		return nil
	},
}

func problemsFromDatabase(ctx context.Context) ([]problems.Problem, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     database.Driver(cfg.DatabaseDriver),
		URL:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
		DataDir:    cfg.DataDir,
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := migrations.Run(ctx, conn); err != nil {
		return nil, err
	}
	return problems.NewSQLRepository(conn).List(ctx)
}

func printProblems(w io.Writer, list []problems.Problem) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No active problems.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tKEY\tSINCE\tMESSAGE")
	for _, p := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			p.Severity, p.Key, p.FirstSeen.Local().Format(time.DateTime), p.Message)
	}
	_ = tw.Flush()
}

func init() {
	problemsListCmd.Flags().BoolVar(&problemsFromDB, "db", false, "read the local database instead of the running agent")
	problemsCmd.AddCommand(problemsListCmd)
	rootCmd.AddCommand(problemsCmd)
}
