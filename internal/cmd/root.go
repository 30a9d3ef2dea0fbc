// Package cmd wires the driver's CLI surface to internal/config and
// internal/driver.
package cmd

import (
	"fmt"

	"github.com/covswarm/cfd-driver/internal/config"
	"github.com/covswarm/cfd-driver/internal/driver"
	"github.com/covswarm/cfd-driver/internal/logging"
	"github.com/covswarm/cfd-driver/internal/output"
	"github.com/spf13/cobra"
)

var Version = "dev"

var (
	fuzzerID      string
	fuzzerCmdFile string
	cfgScript     string
	corpusDir     string
	dataDir       string
	portsSpec     string
	injectDir     string
	sectionSubstr string
	fuzzerStdout  string
	fuzzerStderr  string
	inputSink     string
	verboseFlag   bool
	quietFlag     bool
)

// NewRootCmd builds the driver's single cobra command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cfd-driver -i <id> -f <fuzzer-cmd-file> -b <cfg-script> -c <corpus-dir> -d <data-dir> [flags] -- <sut-argv...>",
		Short: "Per-fuzzer coverage driver for a cooperative fuzzing cluster",
		Long: "cfd-driver attaches a hardware-traced coverage observer to one black-box fuzzer process, " +
			"reduces its new inputs to basic-block coverage, and exchanges interesting inputs and coverage " +
			"metrics with sibling drivers over a messaging bus.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE:          runDriver,
	}

	flags := root.Flags()
	flags.StringVarP(&fuzzerID, "id", "i", "", "this driver's identity on the bus (required)")
	flags.StringVarP(&fuzzerCmdFile, "fuzzer-cmd", "f", "", "file whose lines are the fuzzer's argv (required)")
	flags.StringVarP(&cfgScript, "cfg-script", "b", "", "basic-block-extraction script (required)")
	flags.StringVarP(&corpusDir, "corpus-dir", "c", "", "fuzzer's output corpus directory to watch (required)")
	flags.StringVarP(&dataDir, "data-dir", "d", "", "directory to write input/coverage pairs to (required)")
	flags.StringVarP(&portsSpec, "ports", "p", "", "comma-separated i,u,m port triple; absent selects single mode")
	flags.StringVarP(&injectDir, "inject-dir", "j", "", "directory peer-injected inputs are written to (required iff -p)")
	flags.StringVarP(&sectionSubstr, "section", "s", "", "restrict coverage to the first ELF section whose name contains this substring")
	flags.StringVarP(&fuzzerStdout, "fuzzer-stdout", "l", "", "fuzzer stdout log file (default /dev/null)")
	flags.StringVarP(&fuzzerStderr, "fuzzer-stderr", "L", "", "fuzzer stderr log file (default /dev/null)")
	flags.StringVarP(&inputSink, "input-file", "F", "", "if set, the SUT reads input from this argv token's path instead of stdin")
	flags.BoolVar(&verboseFlag, "verbose", false, "enable debug-level logging")
	flags.BoolVar(&quietFlag, "quiet", false, "suppress everything below warning level")

	return root
}

func runDriver(cmd *cobra.Command, args []string) error {
	fuzzerArgv, err := config.ParseFuzzerCmdFile(fuzzerCmdFile)
	if err != nil {
		return output.Startup(err)
	}

	dashAt := cmd.ArgsLenAtDash()
	var sutArgv []string
	if dashAt >= 0 {
		sutArgv = args[dashAt:]
	}

	cfg := &config.DriverConfig{
		FuzzerID:      fuzzerID,
		FuzzerArgv:    fuzzerArgv,
		CFGScript:     cfgScript,
		CorpusDir:     corpusDir,
		DataDir:       dataDir,
		InjectDir:     injectDir,
		SectionSubstr: sectionSubstr,
		FuzzerStdout:  fuzzerStdout,
		FuzzerStderr:  fuzzerStderr,
		InputSink:     inputSink,
		SUTArgv:       sutArgv,
		Verbose:       verboseFlag,
		Quiet:         quietFlag,
	}
	if len(sutArgv) > 0 {
		cfg.TargetBinary = sutArgv[0]
	}

	if portsSpec != "" {
		ports, err := config.ParsePorts(portsSpec)
		if err != nil {
			return output.Startup(err)
		}
		cfg.Ports = ports
		cfg.Multi = true
	}

	if err := cfg.Validate(); err != nil {
		return output.Startup(err)
	}
	if cfg.TargetBinary == "" {
		return output.Startup(fmt.Errorf("no system-under-test argv given; pass it after --"))
	}

	log := logging.New(cmd.ErrOrStderr(), cfg.FuzzerID, modeOf(cfg), cfg.Verbose, cfg.Quiet)
	return driver.Run(cfg, log)
}

func modeOf(cfg *config.DriverConfig) string {
	if cfg.Multi {
		return "multi"
	}
	return "single"
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// ExitCodeFor maps any error Execute returns to a process exit code.
func ExitCodeFor(err error) int {
	return output.ExitCodeFor(err)
}
