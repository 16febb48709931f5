package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"workmem/internal/bridge"
	"workmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "experience",
		Short: "Record and query episodic experiences",
	}

	recordCmd := &cobra.Command{
		Use:   "record [summary]",
		Short: "Record an experience",
		Long:  "Record an episodic experience. The summary can be a positional arg or piped via stdin.",
		Run:   runExperienceRecord,
	}
	recordCmd.Flags().StringP("scope", "s", "", "Scope (required)")
	recordCmd.Flags().String("session", "", "Originating session id")
	recordCmd.Flags().StringSlice("keys", nil, "Context keys")
	recordCmd.Flags().StringP("outcome", "o", "success", "Outcome: success or fail")
	recordCmd.Flags().IntP("trust", "t", 1, "Trust tier 0-3")
	recordCmd.Flags().String("source", "agent", "Source: agent or system")
	recordCmd.Flags().Bool("bridge", false, "Best-effort mode: swallow failures instead of exiting")
	recordCmd.MarkFlagRequired("scope")

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query experiences",
		Run:   runExperienceQuery,
	}
	queryCmd.Flags().StringP("scope", "s", "", "Scope filter")
	queryCmd.Flags().String("session", "", "Session filter")
	queryCmd.Flags().StringP("outcome", "o", "", "Outcome filter")
	queryCmd.Flags().String("source", "", "Source filter")
	queryCmd.Flags().StringSlice("keys", nil, "Context key overlap filter")
	queryCmd.Flags().Bool("unconsolidated", false, "Only experiences not yet consolidated")
	queryCmd.Flags().IntP("limit", "l", 20, "Maximum results")

	cmd.AddCommand(recordCmd, queryCmd)
	RootCmd.AddCommand(cmd)
}

func runExperienceRecord(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	sessionID, _ := cmd.Flags().GetString("session")
	keys, _ := cmd.Flags().GetStringSlice("keys")
	outcome, _ := cmd.Flags().GetString("outcome")
	trust, _ := cmd.Flags().GetInt("trust")
	source, _ := cmd.Flags().GetString("source")
	useBridge, _ := cmd.Flags().GetBool("bridge")

	var summary string
	if len(args) > 0 {
		summary = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			summary = string(b)
		}
	}
	if strings.TrimSpace(summary) == "" {
		exitErr("experience record", fmt.Errorf("summary is required (positional arg or stdin)"))
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	params := store.ExperienceParams{
		SessionID:   sessionID,
		Scope:       scope,
		ContextKeys: keys,
		Summary:     strings.TrimSpace(summary),
		Outcome:     outcome,
		Trust:       trust,
		Source:      source,
	}

	if useBridge {
		exp := bridge.NewRecorder(s, newLogger()).Record(cmd.Context(), params, time.Now())
		if exp == nil {
			fmt.Println(`{"recorded": false}`)
			return
		}
		b, _ := json.Marshal(exp)
		fmt.Println(string(b))
		return
	}

	exp, err := s.RecordExperience(cmd.Context(), params, time.Now())
	if err != nil {
		exitErr("experience record", err)
	}

	b, _ := json.Marshal(exp)
	fmt.Println(string(b))
}

func runExperienceQuery(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	sessionID, _ := cmd.Flags().GetString("session")
	outcome, _ := cmd.Flags().GetString("outcome")
	source, _ := cmd.Flags().GetString("source")
	keys, _ := cmd.Flags().GetStringSlice("keys")
	unconsolidated, _ := cmd.Flags().GetBool("unconsolidated")
	limit, _ := cmd.Flags().GetInt("limit")

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	exps, err := s.QueryExperiences(cmd.Context(), store.ExperienceQuery{
		Scope:          scope,
		SessionID:      sessionID,
		Outcome:        outcome,
		Source:         source,
		ContextKeys:    keys,
		Unconsolidated: unconsolidated,
		Limit:          limit,
	})
	if err != nil {
		exitErr("experience query", err)
	}

	b, _ := json.MarshalIndent(exps, "", "  ")
	fmt.Println(string(b))
}
