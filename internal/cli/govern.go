package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"workmem/internal/canon"
	"workmem/internal/govern"
	"workmem/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "govern",
		Short: "Governance: validation, receipts and tokens",
	}

	validateCmd := &cobra.Command{
		Use:   "validate [session-id]",
		Short: "Validate a session's governance invariants",
		Args:  cobra.ExactArgs(1),
		Run:   runGovernValidate,
	}
	validateCmd.Flags().String("context-hash", "", "Expected context hash to check continuity against")

	receiptCmd := &cobra.Command{
		Use:   "receipt [session-id]",
		Short: "Mint a signed receipt for a session",
		Args:  cobra.ExactArgs(1),
		Run:   runGovernReceipt,
	}
	receiptCmd.Flags().String("type", "checkpoint", "Receipt type")
	receiptCmd.Flags().String("meta", "", "Public metadata stored outside the signed payload")

	tokenCmd := &cobra.Command{
		Use:   "token [session-id]",
		Short: "Mint a signed capability token",
		Args:  cobra.ExactArgs(1),
		Run:   runGovernToken,
	}
	tokenCmd.Flags().String("type", "capability", "Token type")
	tokenCmd.Flags().StringSlice("permissions", nil, "Granted permissions")
	tokenCmd.Flags().Duration("ttl", time.Hour, "Token lifetime")

	verifyReceiptCmd := &cobra.Command{
		Use:   "verify-receipt [receipt-id]",
		Short: "Independently verify a receipt's hash and signature",
		Args:  cobra.ExactArgs(1),
		Run:   runGovernVerifyReceipt,
	}

	verifyTokenCmd := &cobra.Command{
		Use:   "verify-token [token-id]",
		Short: "Verify a token's signature and expiry",
		Args:  cobra.ExactArgs(1),
		Run:   runGovernVerifyToken,
	}

	authorizeCmd := &cobra.Command{
		Use:   "authorize [token-id]",
		Short: "Check that a token grants a permission",
		Args:  cobra.ExactArgs(1),
		Run:   runGovernAuthorize,
	}
	authorizeCmd.Flags().StringP("permission", "p", "", "Permission to check (required)")
	authorizeCmd.MarkFlagRequired("permission")

	cmd.AddCommand(validateCmd, receiptCmd, tokenCmd, verifyReceiptCmd, verifyTokenCmd, authorizeCmd)
	RootCmd.AddCommand(cmd)
}

func newGovernor(s *store.SQLiteStore, signer *canon.Signer) *govern.Governor {
	return govern.NewGovernor(s, signer, newLogger(), nil)
}

func openGovernor() (*govern.Governor, *store.SQLiteStore) {
	s, err := openStore()
	if err != nil {
		exitErr("open store", err)
	}
	signer, err := openSigner()
	if err != nil {
		exitErr("load signing secret", err)
	}
	return newGovernor(s, signer), s
}

func runGovernValidate(cmd *cobra.Command, args []string) {
	contextHash, _ := cmd.Flags().GetString("context-hash")

	g, s := openGovernor()
	defer s.Close()

	result, err := g.Validate(cmd.Context(), args[0], contextHash, time.Now())
	if err != nil {
		exitErr("govern validate", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
	if !result.Valid {
		os.Exit(1)
	}
}

func runGovernReceipt(cmd *cobra.Command, args []string) {
	receiptType, _ := cmd.Flags().GetString("type")
	meta, _ := cmd.Flags().GetString("meta")

	g, s := openGovernor()
	defer s.Close()

	receipt, err := g.MintReceipt(cmd.Context(), args[0], receiptType, meta, time.Now())
	if err != nil {
		exitErr("govern receipt", err)
	}

	b, _ := json.MarshalIndent(receipt, "", "  ")
	fmt.Println(string(b))
}

func runGovernToken(cmd *cobra.Command, args []string) {
	tokenType, _ := cmd.Flags().GetString("type")
	permissions, _ := cmd.Flags().GetStringSlice("permissions")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	g, s := openGovernor()
	defer s.Close()

	token, err := g.MintToken(cmd.Context(), args[0], tokenType, permissions, ttl, time.Now())
	if err != nil {
		exitErr("govern token", err)
	}

	b, _ := json.MarshalIndent(token, "", "  ")
	fmt.Println(string(b))
}

func runGovernVerifyReceipt(cmd *cobra.Command, args []string) {
	g, s := openGovernor()
	defer s.Close()

	result, err := g.VerifyReceipt(cmd.Context(), args[0])
	if err != nil {
		exitErr("govern verify-receipt", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
	if !result.Valid {
		os.Exit(1)
	}
}

func runGovernAuthorize(cmd *cobra.Command, args []string) {
	permission, _ := cmd.Flags().GetString("permission")

	g, s := openGovernor()
	defer s.Close()

	if err := g.Authorize(cmd.Context(), args[0], permission, time.Now()); err != nil {
		exitErr("govern authorize", err)
	}
	fmt.Printf(`{"authorized": true, "permission": %q}`+"\n", permission)
}

func runGovernVerifyToken(cmd *cobra.Command, args []string) {
	g, s := openGovernor()
	defer s.Close()

	result, err := g.VerifyToken(cmd.Context(), args[0], time.Now())
	if err != nil {
		exitErr("govern verify-token", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
	if !result.Valid {
		os.Exit(1)
	}
}
