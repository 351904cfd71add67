package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aquaflash/internal/config"
	"aquaflash/internal/firmware"
	"aquaflash/internal/flasher"
	"aquaflash/internal/serialport"
)

func newFlashCmd() *cobra.Command {
	var (
		opts       sketchOptions
		serialPort string
		virtual    bool
	)
	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Generate, compile and flash a sketch over USB serial",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			appCfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			cfg, err := opts.build(configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fw := firmware.Generate(cfg)
			printWarnings(cmd.ErrOrStderr(), fw.Warnings)

			logger := log.New(cmd.ErrOrStderr(), "", log.LstdFlags)
			comp, err := newCompiler(appCfg, logger)
			if err != nil {
				return err
			}

			var opener flasher.Opener = serialport.NewUSBOpener(serialPort, logger)
			if virtual {
				opener = serialport.NewVirtualOpener(logger)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runFlash(ctx, cmd.OutOrStdout(), opener, comp, flasher.Request{
				Sketch:    fw.Source,
				Filename:  fw.Filename,
				FQBN:      cfg.Board.FQBN,
				Libraries: firmware.LibraryNames(fw.Libraries),
			})
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&serialPort, "serial", "", "serial device (auto-detect when empty)")
	cmd.Flags().BoolVar(&virtual, "virtual", false, "flash into a virtual loopback port")
	return cmd
}

// runFlash connects, flashes and disconnects, printing the console as it goes.
func runFlash(ctx context.Context, out io.Writer, opener flasher.Opener, comp flasher.Compiler, req flasher.Request) error {
	driver := flasher.NewDriver(opener, comp, flasher.WithObserver(func(ev flasher.Event) {
		switch ev.Type {
		case flasher.EventState:
			fmt.Fprintf(out, "[%s] %s\n", ev.State, ev.Message)
		case flasher.EventProgress:
			fmt.Fprintf(out, "\r%3d%%", ev.Progress)
			if ev.Progress == 100 {
				fmt.Fprintln(out)
			}
		}
	}))

	// Ctrl-C aborts whatever is running
	go func() {
		<-ctx.Done()
		driver.Disconnect()
	}()

	if err := driver.Connect(ctx); err != nil {
		return err
	}
	defer driver.Disconnect()

	return driver.Flash(ctx, req)
}
