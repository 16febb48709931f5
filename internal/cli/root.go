// Package cli implements the workmem CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"workmem/internal/canon"
	"workmem/internal/store"
)

var (
	dbPath  string
	keyPath string
	verbose bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "workmem",
	Short: "Working memory for AI agents",
	Long:  "Session-scoped working memory with a hash-chained audit log, consolidated semantic cells, byte-budgeted context packing and signed governance receipts. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $WORKMEM_DB or ~/.workmem/workmem.db)")
	RootCmd.PersistentFlags().StringVarP(&keyPath, "key", "k", "", "Signing secret path (default: $WORKMEM_KEY or ~/.workmem/secret.key)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging to stderr")
}

func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("WORKMEM_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".workmem", "workmem.db")
}

func getKeyPath() string {
	if keyPath != "" {
		return keyPath
	}
	if env := os.Getenv("WORKMEM_KEY"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".workmem", "secret.key")
}

func newLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openStore() (*store.SQLiteStore, error) {
	return store.NewSQLiteStore(getDBPath(), newLogger())
}

func openSigner() (*canon.Signer, error) {
	return canon.LoadSecret(getKeyPath())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
