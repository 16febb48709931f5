package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage reasoning sessions",
	}

	newCmd := &cobra.Command{
		Use:   "new",
		Short: "Start a new session",
		Run:   runSessionNew,
	}
	newCmd.Flags().StringP("scope", "s", "session", "Scope mode: session, task, or global")
	newCmd.Flags().String("flags", "", "Comma-separated key=value governance flags")

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionGet,
	}

	cmd.AddCommand(newCmd, getCmd)
	RootCmd.AddCommand(cmd)
}

func runSessionNew(cmd *cobra.Command, args []string) {
	scope, _ := cmd.Flags().GetString("scope")
	flagsStr, _ := cmd.Flags().GetString("flags")

	flags := map[string]string{}
	if flagsStr != "" {
		for _, pair := range strings.Split(flagsStr, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || k == "" {
				exitErr("session new", fmt.Errorf("malformed flag %q, want key=value", pair))
			}
			flags[k] = v
		}
	}

	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sess, err := s.CreateSession(cmd.Context(), scope, flags, time.Now())
	if err != nil {
		exitErr("session new", err)
	}

	b, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Println(string(b))
}

func runSessionGet(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	sess, err := s.GetSession(cmd.Context(), args[0])
	if err != nil {
		exitErr("session get", err)
	}

	b, _ := json.MarshalIndent(sess, "", "  ")
	fmt.Println(string(b))
}
