// cmd_env.go - Env und Devices Commands
// Hauptfunktionen: EnvHandler, DevicesHandler
package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/fastbert/trainer/discover"
	"github.com/fastbert/trainer/envconfig"
	"github.com/fastbert/trainer/format"
)

// EnvHandler - Listet alle Umgebungsvariablen mit ihren aktuellen Werten
func EnvHandler(cmd *cobra.Command, args []string) error {
	envs := envconfig.AsMap()

	var data [][]string
	for _, name := range slices.Sorted(maps.Keys(envs)) {
		e := envs[name]
		data = append(data, []string{e.Name, fmt.Sprint(e.Value), e.Description})
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"NAME", "VALUE", "DESCRIPTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	return nil
}

// DevicesHandler - Listet die sichtbaren GPUs und die daraus folgende Platzierung
func DevicesHandler(cmd *cobra.Command, args []string) error {
	devices := discover.GPUDevices(cmd.Context())
	w := cmd.OutOrStdout()

	if len(devices) > 0 {
		var data [][]string
		for _, d := range devices {
			data = append(data, []string{
				strconv.Itoa(d.Index),
				d.Name,
				format.HumanBytes(d.TotalMemory.Bytes()),
				format.HumanBytes(d.FreeMemory.Bytes()),
				d.ComputeCap,
				strconv.FormatBool(d.SupportsFP16()),
			})
		}

		table := tablewriter.NewWriter(w)
		table.SetHeader([]string{"INDEX", "NAME", "MEMORY", "FREE", "COMPUTE", "FP16"})
		table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetHeaderLine(false)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(data)
		table.Render()
	} else {
		fmt.Fprintln(w, "No GPUs found")
	}

	fp16, _ := cmd.Flags().GetBool("fp16")
	distributed, _ := cmd.Flags().GetBool("distributed")
	p := discover.Select(devices, fp16, distributed, envconfig.MasterPort())
	fmt.Fprintf(w, "device: %s, multi_gpu: %t, fp16: %t\n", p.Device, p.MultiGPU, p.FP16)
	if pg := p.ProcessGroup; pg != nil {
		fmt.Fprintf(w, "process group: %s %s (rank %d of %d)\n", pg.Backend, pg.InitMethod, pg.Rank, pg.WorldSize)
	}
	return nil
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}

// newDevicesCmd - Erstellt den devices Command
func newDevicesCmd() *cobra.Command {
	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List visible GPUs and the resulting device placement",
		Args:  cobra.NoArgs,
		RunE:  DevicesHandler,
	}

	devicesCmd.Flags().Bool("fp16", true, "Request mixed precision")
	devicesCmd.Flags().Bool("distributed", false, "Request a distributed process group")
	return devicesCmd
}
