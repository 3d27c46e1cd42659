package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftsync/driftsync/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `Write a fully-commented sample configuration file with every value
set to its default. The file is written to --config, or ./driftsync.yaml
when no --config is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = "driftsync.yaml"
		}
		if err := config.WriteSample(path, initForce); err != nil {
			return err
		}
		fmt.Printf("Configuration file created at %s\n", path)
		fmt.Println("Start the server with: driftsyncd start --config " + path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}
