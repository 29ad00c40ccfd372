package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/linanwx/supportbot/config"
)

var actionsJSON bool

var actionsCmd = &cobra.Command{
	Use:   "actions [thread-id]",
	Short: "List persisted agent actions",
	Long: `Without arguments, list threads that have agent actions. With a thread ID,
list that thread's actions in order.

Examples:
  supportbot actions
  supportbot actions thread-42
  supportbot actions thread-42 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runActions,
}

func init() {
	actionsCmd.Flags().BoolVar(&actionsJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(actionsCmd)
}

func runActions(_ *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	if len(args) == 0 {
		threads, err := st.ListThreads(ctx)
		if err != nil {
			return err
		}
		if actionsJSON {
			return json.NewEncoder(os.Stdout).Encode(threads)
		}
		for _, id := range threads {
			fmt.Println(id)
		}
		return nil
	}

	list, err := st.ListActions(ctx, args[0])
	if err != nil {
		return err
	}
	if actionsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tACTION\tDESCRIPTION\tCREATED")
	for _, a := range list {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.Seq, a.Action, a.Description, a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}
