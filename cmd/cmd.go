// cmd.go - CLI Setup und Root Command
// Hauptfunktionen: NewCLI, TrainHandler, appendEnvDocs
package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fastbert/trainer/envconfig"
	"github.com/fastbert/trainer/job"
	"github.com/fastbert/trainer/layout"
)

// version wird beim Build per -ldflags gesetzt
var version = "0.0.0"

// ExitError traegt den Exit-Code eines fehlgeschlagenen Laufs nach main
type ExitError int

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// jobLayout liest --prefix, sonst FASTBERT_PREFIX
func jobLayout(cmd *cobra.Command) layout.Layout {
	if prefix, _ := cmd.Flags().GetString("prefix"); prefix != "" {
		return layout.New(prefix)
	}
	return layout.New(envconfig.Prefix())
}

// TrainHandler - Fuehrt den Trainingslauf aus
func TrainHandler(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Fprintf(cmd.OutOrStdout(), "train version is %s\n", version)
		return nil
	}

	offline, _ := cmd.Flags().GetBool("offline")
	code := job.Main(cmd.Context(), job.Options{
		Layout:  jobLayout(cmd),
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
		Offline: offline,
	})
	if code != 0 {
		return ExitError(code)
	}
	return nil
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "train",
		Short:         "Fine-tune a pretrained transformer for text classification",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: TrainHandler,
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	rootCmd.PersistentFlags().String("prefix", "", "Root of the training job layout")
	rootCmd.Flags().Bool("offline", false, "Never download pretrained models from the hub")

	inspectCmd := newInspectCmd()
	devicesCmd := newDevicesCmd()
	envCmd := newEnvCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(rootCmd, []envconfig.EnvVar{
		envVars["FASTBERT_PREFIX"],
		envVars["FASTBERT_DEBUG"],
		envVars["FASTBERT_RUNNER"],
		envVars["FASTBERT_LOAD_TIMEOUT"],
		envVars["FASTBERT_MASTER_PORT"],
		envVars["FASTBERT_OFFLINE"],
		envVars["FASTBERT_RUNNER_LOGS"],
		envVars["FASTBERT_S3_OUTPUT"],
		envVars["FASTBERT_SAVE_WORKERS"],
		envVars["AWS_REGION"],
		envVars["HF_TOKEN"],
		envVars["HF_ENDPOINT"],
	})
	appendEnvDocs(inspectCmd, []envconfig.EnvVar{envVars["FASTBERT_PREFIX"]})
	appendEnvDocs(devicesCmd, []envconfig.EnvVar{
		envVars["CUDA_VISIBLE_DEVICES"],
		envVars["FASTBERT_NVIDIA_SMI"],
		envVars["FASTBERT_MASTER_PORT"],
	})

	rootCmd.AddCommand(
		inspectCmd,
		devicesCmd,
		envCmd,
	)

	return rootCmd
}
