package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"workmem/internal/cycle"
	"workmem/internal/finalize"
)

func init() {
	cmd := &cobra.Command{
		Use:   "advance [session-id]",
		Short: "Execute the next cycle phase for a session",
		Long:  "Execute exactly the next phase of the guarded reasoning cycle. Phases that need input the caller has not supplied report a waiting status and leave the session untouched.",
		Args:  cobra.ExactArgs(1),
		Run:   runAdvance,
	}

	cmd.Flags().String("route", "", "Route decision for the ROUTER phase")
	cmd.Flags().String("scope", "", "Packing scope for CONTEXT_PACK (default: session scope mode)")
	cmd.Flags().StringSlice("keys", nil, "Context keys for CONTEXT_PACK")
	cmd.Flags().Int("budget", 0, "Byte budget for CONTEXT_PACK")
	cmd.Flags().String("draft", "", "Draft text for the DRAFT phase")
	cmd.Flags().Bool("finalize", false, "Run the response finalizer over --draft for FINALIZE_RESPONSE")
	cmd.Flags().Bool("govern", false, "Run governance validation for GOVERNANCE_VALIDATE")

	RootCmd.AddCommand(cmd)
}

func runAdvance(cmd *cobra.Command, args []string) {
	sessionID := args[0]
	route, _ := cmd.Flags().GetString("route")
	scope, _ := cmd.Flags().GetString("scope")
	keys, _ := cmd.Flags().GetStringSlice("keys")
	budget, _ := cmd.Flags().GetInt("budget")
	draft, _ := cmd.Flags().GetString("draft")
	doFinalize, _ := cmd.Flags().GetBool("finalize")
	doGovern, _ := cmd.Flags().GetBool("govern")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	in := cycle.Inputs{
		Route:       route,
		Scope:       scope,
		ContextKeys: keys,
		ByteBudget:  budget,
		Draft:       draft,
	}

	if doFinalize {
		res := finalize.Finalize(finalize.Input{DraftText: draft})
		in.Finalize = &res
	}
	if doGovern {
		signer, err := openSigner()
		if err != nil {
			exitErr("load signing secret", err)
		}
		g := newGovernor(s, signer)
		v, err := g.Validate(cmd.Context(), sessionID, "", time.Now())
		if err != nil {
			exitErr("govern validate", err)
		}
		in.GovernanceValid = &v.Valid
		in.GovernanceErrors = v.Errors
	}

	engine := cycle.NewEngine(s, newLogger())
	result, err := engine.Advance(cmd.Context(), sessionID, in, time.Now())
	if err != nil {
		exitErr("advance", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
