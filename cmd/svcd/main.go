package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/axondata/go-svcd"
	"github.com/axondata/go-svcd/internal/logging"
)

// DefaultConfigPath is read when neither --config nor SVCDCONFIG is set
const DefaultConfigPath = "/etc/svcd/svcd.yaml"

var (
	configPath string // config file in use
	config     svcd.Config
	logger     zerolog.Logger
	logCloser  io.Closer

	flagConfigFilePath string // value of --config
	flagVerbose        bool   // value of --verbose
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "config file to load, default "+DefaultConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")

	rootCmd.SilenceErrors = true
	rootCmd.PersistentPreRunE = initSvcd
	rootCmd.PersistentPostRunE = func(*cobra.Command, []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	}

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error().Err(err).Msg("svcd failed")
		fmt.Fprintln(os.Stderr, "svcd:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "svcd",
	Short:        "Service control daemon",
	SilenceUsage: true,
	RunE:         doServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the daemon (default)",
	RunE:  doServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "load the configuration, run feasibility checks and print the services",
	RunE:  doCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		v := svcd.GetVersion()
		fmt.Fprintf(out, "svcd:     %s\n", v.Version)
		fmt.Fprintf(out, "protocol: %d\n", v.Protocol)
		fmt.Fprintf(out, "jobtypes: %v\n", v.JobTypes)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Fprintf(out, "go:       %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit:   %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:     %s\n", s.Value)
				}
			}
		}
	},
}

func initSvcd(cmd *cobra.Command, _ []string) error {
	switch {
	case flagConfigFilePath != "":
		configPath = flagConfigFilePath
	default:
		if env, ok := os.LookupEnv("SVCDCONFIG"); ok {
			configPath = env
		} else {
			configPath = DefaultConfigPath
		}
	}

	var err error
	config, err = svcd.LoadConfig(configPath)
	if err != nil {
		return err
	}
	// --verbose has precedence over the config file
	if flagVerbose {
		config.Log.Debug = true
	}
	logger, logCloser, err = logging.New(config.Log)
	if err != nil {
		return err
	}
	logger.Debug().Str("config", configPath).Str("cmd", cmd.Name()).Msg("configuration loaded")
	return nil
}

// doCheck builds every job once, prints the resulting service table and
// shuts the jobs down again. Jobs that fail to load are logged and missing
// from the table.
func doCheck(cmd *cobra.Command, _ []string) error {
	h := svcd.NewHandler(svcd.StaticJobs(config.Jobs...), logging.WithComponent(logger, "handler"))
	if err := h.Start(cmd.Context()); err != nil {
		return err
	}
	defer func() { _ = h.Shutdown() }()

	list := h.RequestServiceList(cmd.Context(), svcd.NewClientInfo(svcd.LevelAdmin))
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tINSTANCE\tJOB\tTYPE\tSTATE\tSTATUS")
	for _, name := range sortedKeys(list.Services) {
		info := list.Services[name]
		for _, inst := range sortedKeys(info.Instances) {
			ii := info.Instances[inst]
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", name, inst, info.Job, info.JobType, ii.State, ii.ExtStatus)
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(h.Jobs()) != len(config.Jobs) {
		return fmt.Errorf("%d of %d jobs failed to load", len(config.Jobs)-len(h.Jobs()), len(config.Jobs))
	}
	return nil
}
