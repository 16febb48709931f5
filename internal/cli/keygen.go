package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"workmem/internal/canon"
)

func init() {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing secret",
		Long:  "Generate a fresh signing secret and write it to the key path. Refuses to overwrite an existing secret.",
		Run:   runKeygen,
	}

	RootCmd.AddCommand(cmd)
}

func runKeygen(cmd *cobra.Command, args []string) {
	path := getKeyPath()
	if _, err := os.Stat(path); err == nil {
		exitErr("keygen", fmt.Errorf("secret already exists at %s", path))
	}
	if err := canon.WriteSecret(path); err != nil {
		exitErr("keygen", err)
	}
	fmt.Printf("wrote signing secret to %s\n", path)
}
