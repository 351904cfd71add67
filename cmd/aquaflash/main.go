package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=vX.Y.Z"
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aquaflash",
		Short:         "Configure, generate and flash ESP32 aquaponics sensor firmware",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", ".env", "path to the .env configuration file")

	root.AddCommand(
		newServeCmd(),
		newBoardsCmd(),
		newSensorsCmd(),
		newGenerateCmd(),
		newFlashCmd(),
	)
	root.SetVersionTemplate(fmt.Sprintf("aquaflash %s\n", Version))
	return root
}
