package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/filterdteam/filterd/internal/config"
	"github.com/filterdteam/filterd/internal/engine"
	"github.com/filterdteam/filterd/internal/frontend"
	"github.com/filterdteam/filterd/internal/logging"
	"github.com/filterdteam/filterd/internal/supervisor"
)

var (
	flagDebug    bool
	flagVerbose  int
	flagCheck    bool
	flagConfFile string
	flagSocket   string
	flagDefines  []string

	// Internal role flags; the supervisor re-execs itself with these
	// to start the unprivileged child processes.
	flagEngine   bool
	flagFrontend bool
	flagUser     string
)

var rootCmd = &cobra.Command{
	Use:           "filterd",
	Short:         "filterd -- mail filter daemon",
	Long:          "Filterd supervises a set of mail filter processes behind a privilege-separated frontend and engine.",
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runDaemon,
}

func init() {
	fl := rootCmd.Flags()
	fl.BoolVarP(&flagDebug, "debug", "d", false, "Run in the foreground and log as text")
	fl.CountVarP(&flagVerbose, "verbose", "v", "Increase log verbosity")
	fl.BoolVarP(&flagCheck, "check", "n", false, "Check the configuration file and exit")
	fl.StringVarP(&flagConfFile, "file", "f", config.DefaultConfFile, "Configuration file")
	fl.StringVarP(&flagSocket, "socket", "s", "", "Control socket path")
	fl.StringArrayVarP(&flagDefines, "define", "D", nil, "Define a configuration macro (name=value)")

	fl.BoolVarP(&flagEngine, "engine", "E", false, "")
	fl.BoolVarP(&flagFrontend, "frontend", "F", false, "")
	fl.StringVar(&flagUser, "user", "", "")
	fl.MarkHidden("engine")
	fl.MarkHidden("frontend")
	fl.MarkHidden("user")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger, level := logging.New(logging.Options{Debug: flagDebug, Verbose: flagVerbose})
	slog.SetDefault(logger)

	switch {
	case flagEngine && flagFrontend:
		return fmt.Errorf("cannot be engine and frontend at once")
	case flagEngine:
		return engine.Run(engine.Options{User: flagUser, Logger: logger})
	case flagFrontend:
		sock := flagSocket
		if sock == "" {
			sock = config.DefaultSocket
		}
		return frontend.Run(frontend.Options{User: flagUser, Socket: sock, Logger: logger})
	}

	defines, err := parseDefines(flagDefines)
	if err != nil {
		return err
	}

	cfg, warnings, err := config.Load(flagConfFile, defines)
	if err != nil {
		return err
	}
	if flagSocket != "" {
		cfg.Daemon.Socket = flagSocket
	}

	if flagCheck {
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w)
		}
		if flagVerbose > 0 {
			config.Print(cmd.OutOrStdout(), cfg)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		}
		return nil
	}
	for _, w := range warnings {
		logger.Warn("config warning", "warning", w)
	}

	s := supervisor.New(supervisor.Options{
		Config:     cfg,
		ConfigPath: flagConfFile,
		Defines:    defines,
		Debug:      flagDebug,
		Verbose:    flagVerbose,
		Logger:     logger,
		Level:      level,
	})
	return s.Run()
}

func parseDefines(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	defines := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, err := config.ParseDefine(arg)
		if err != nil {
			return nil, err
		}
		defines[name] = value
	}
	return defines, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
