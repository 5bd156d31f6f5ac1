package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// options are the flags shared by every command
type options struct {
	configFile string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "rtbreplay",
		Short: "Replay historical auction logs against an OpenRTB endpoint",
		Long: `rtbreplay reads a tab-separated auction log, turns every line into an
OpenRTB bid request and sends it to the auction endpoint under test. Wins,
clicks and conversions are simulated and delivered to the configured
notification endpoints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (YAML or JSON); RTBREPLAY_* env vars override it")

	root.AddCommand(
		newRunCmd(opts),
		newValidateCmd(opts),
		newVersionCmd(opts),
	)
	return root
}

// execute runs the CLI and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(opts.stdout, "rtbreplay %s\n", version)
		},
	}
}
