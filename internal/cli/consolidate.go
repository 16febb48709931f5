package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"workmem/internal/consolidate"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Consolidate experiences into semantic cells",
		Long:  "Extract rule and fact candidates from unconsolidated experiences in a scope and merge them into cells. Re-running over the same experiences is a no-op.",
		Run:   runConsolidate,
	}

	cmd.Flags().StringP("scope", "s", "", "Scope to consolidate (required)")
	cmd.Flags().Int("min-trust", 0, "Skip experiences below this trust tier")
	cmd.MarkFlagRequired("scope")

	RootCmd.AddCommand(cmd)
}

func runConsolidate(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	minTrust, _ := cmd.Flags().GetInt("min-trust")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	engine := consolidate.NewEngine(s, newLogger())
	result, err := engine.Run(cmd.Context(), consolidate.Params{
		Scope:    scope,
		MinTrust: minTrust,
	}, time.Now())
	if err != nil {
		exitErr("consolidate", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
