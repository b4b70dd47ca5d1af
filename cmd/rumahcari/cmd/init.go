package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hunianlab/rumahcari/configs"
	"github.com/hunianlab/rumahcari/internal/output"
)

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a project configuration in the working directory",
		Long: `Write rumahcari.yaml into the working directory from the embedded
template and create the data directory.

The template carries the deployment-level settings: backend endpoint,
retrieval tuning, sync cadence, data directory. Machine-level settings
(API keys, provider hosts) belong in the user config; see
'rumahcari config init'.`,
		Example: `  # Create rumahcari.yaml here
  rumahcari init

  # Overwrite an existing config
  rumahcari init --force`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing rumahcari.yaml")

	return cmd
}

func runInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())

	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	path := filepath.Join(dir, "rumahcari.yaml")

	if fileExists(path) && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	out.Successf("Wrote %s", path)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	out.Successf("Data directory ready at %s", cfg.DataDir)

	out.Newline()
	out.Println("Next steps:")
	out.Println("  rumahcari doctor   # verify backend, embedder, and LLM reachability")
	out.Println("  rumahcari sync     # pull listings and build the vector index")
	out.Println("  rumahcari serve    # start the chat API")

	return nil
}
