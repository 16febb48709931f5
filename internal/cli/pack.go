package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"workmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Assemble a byte-budgeted context pack",
		Long:  "Greedily pack the highest-ranked cells and experiences for a scope into a byte budget and print the pack with its reproducible context hash.",
		Run:   runPack,
	}

	cmd.Flags().StringP("scope", "s", "", "Scope to pack (required)")
	cmd.Flags().String("session", "", "Session id to record the context hash on")
	cmd.Flags().StringSlice("keys", nil, "Context keys to filter by overlap")
	cmd.Flags().Int("max-cells", 0, "Cell candidate cap")
	cmd.Flags().Int("max-experiences", 0, "Experience candidate cap")
	cmd.Flags().Int("budget", 0, "Byte budget for the packed payload")

	cmd.MarkFlagRequired("scope")

	RootCmd.AddCommand(cmd)
}

func runPack(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	sessionID, _ := cmd.Flags().GetString("session")
	keys, _ := cmd.Flags().GetStringSlice("keys")
	maxCells, _ := cmd.Flags().GetInt("max-cells")
	maxExperiences, _ := cmd.Flags().GetInt("max-experiences")
	budget, _ := cmd.Flags().GetInt("budget")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	params := store.PackParams{
		SessionID:      sessionID,
		Scope:          scope,
		ContextKeys:    keys,
		MaxCells:       maxCells,
		MaxExperiences: maxExperiences,
		ByteBudget:     budget,
	}

	var result *store.PackResult
	if sessionID != "" {
		result, err = s.PackForSession(cmd.Context(), params, time.Now())
	} else {
		result, err = s.ContextPack(cmd.Context(), params, time.Now())
	}
	if err != nil {
		exitErr("pack", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
