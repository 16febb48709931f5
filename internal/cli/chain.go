package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect the invocation chain",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify [session-id]",
		Short: "Verify a session's hash chain",
		Long:  "Recompute every link of the session's invocation chain and report breaks. A broken chain is reported, never repaired.",
		Args:  cobra.ExactArgs(1),
		Run:   runChainVerify,
	}

	listCmd := &cobra.Command{
		Use:   "list [session-id]",
		Short: "List a session's invocations in chain order",
		Args:  cobra.ExactArgs(1),
		Run:   runChainList,
	}

	cmd.AddCommand(verifyCmd, listCmd)
	RootCmd.AddCommand(cmd)
}

func runChainVerify(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	result, err := s.VerifyChain(cmd.Context(), args[0])
	if err != nil {
		exitErr("chain verify", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
	if !result.Valid {
		os.Exit(1)
	}
}

func runChainList(cmd *cobra.Command, args []string) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	invocations, err := s.ListInvocations(cmd.Context(), args[0])
	if err != nil {
		exitErr("chain list", err)
	}

	b, _ := json.MarshalIndent(invocations, "", "  ")
	fmt.Println(string(b))
}
