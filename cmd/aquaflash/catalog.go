package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aquaflash/internal/catalog"
)

func newBoardsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "boards [board-id]",
		Short: "List supported boards, or the pins of one board",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				if asJSON {
					return printJSON(out, catalog.Boards())
				}
				return printBoards(out, catalog.Boards())
			}

			board, ok := catalog.LookupBoard(args[0])
			if !ok {
				return fmt.Errorf("unknown board %q", args[0])
			}
			if asJSON {
				return printJSON(out, board)
			}
			return printPins(out, board)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newSensorsCmd() *cobra.Command {
	var (
		asJSON   bool
		category string
	)
	cmd := &cobra.Command{
		Use:   "sensors",
		Short: "List the sensor catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sensors := catalog.Sensors()
			if category != "" {
				sensors = catalog.SensorsByCategory(catalog.Category(category))
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), sensors)
			}
			return printSensors(cmd.OutOrStdout(), sensors)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&category, "category", "", "only list one category")
	return cmd
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printBoards(w io.Writer, boards []catalog.Board) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMCU\tFLASH\tSUPPORTED")
	for _, b := range boards {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d MB\t%v\n", b.ID, b.Name, b.MCU, b.FlashMB, b.Supported)
	}
	return tw.Flush()
}

func printPins(w io.Writer, b *catalog.Board) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s)\n\n", b.Name, b.FQBN)
	fmt.Fprintln(tw, "PIN\tGPIO\tCAPABILITIES\tNOTE")
	for _, p := range b.Pins {
		gpio := "-"
		if p.GPIO != nil {
			gpio = fmt.Sprint(*p.GPIO)
		}
		note := p.Note
		if p.Strapping && note == "" {
			note = "strapping"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, gpio, p.Caps, note)
	}
	return tw.Flush()
}

func printSensors(w io.Writer, sensors []catalog.Sensor) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPINS\tREADINGS")
	for _, s := range sensors {
		var pins, readings []string
		for _, sp := range s.SignalPins() {
			pins = append(pins, fmt.Sprintf("%s(%s)", sp.Name, sp.Requires))
		}
		for _, r := range s.Readings {
			readings = append(readings, r.Type)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Name, s.Category, strings.Join(pins, " "), strings.Join(readings, ", "))
	}
	return tw.Flush()
}
