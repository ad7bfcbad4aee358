// Package cmd wires cobra subcommands for the kinesis binary: config
// resolution, logging setup, and the start/version commands. Config
// loads before any subcommand runs.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/EdgeKing810/kinesis-db/config"
)

var (
	kinesisCmd = &cobra.Command{
		Use:               "kinesis",
		Short:             "An embedded, ACID-compliant database engine",
		PersistentPreRunE: kinesisPreRun,
		PersistentPostRun: kinesisPostRun,
	}

	logFile   = "kinesis.log"
	logLevel  = "info"
	logStderr = false
	logWriter io.WriteCloser

	configFile = "kinesis.conf"
	noConfig   = false

	cfg = config.Default()
)

func init() {
	log.SetFormatter(&log.TextFormatter{DisableLevelTruncation: true})

	fs := kinesisCmd.PersistentFlags()
	fs.StringVar(&logFile, "log-file", logFile, "`file` to use for logging")
	fs.StringVar(&logLevel, "log-level", logLevel,
		"log level: trace, debug, info, warn, error, fatal, or panic")
	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")
	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")

	cfg.BindFlags(fs)
}

// Execute loads any config file before cobra parses the command line, so
// that BindFlags's single pass at init time still leaves flags the final
// word: a flag given on the command line calls Value.Set again during
// cobra's own parse step, after the config file's Set already ran here.
func Execute() error {
	if path, ok := preScanConfigFile(os.Args[1:]); ok {
		if err := cfg.LoadFile(path); err != nil {
			return fmt.Errorf("kinesis: %s", err)
		}
	}
	return kinesisCmd.Execute()
}

// preScanConfigFile looks for --config-file/--no-config in argv without
// involving cobra, since config loading has to happen before cobra's
// flag parsing for config-file values to act as defaults rather than
// overrides.
func preScanConfigFile(args []string) (string, bool) {
	path := configFile
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--no-config":
			return "", false
		case a == "--config-file" && i+1 < len(args):
			path = args[i+1]
			i++
		case strings.HasPrefix(a, "--config-file="):
			path = strings.TrimPrefix(a, "--config-file=")
		}
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func kinesisPreRun(cmd *cobra.Command, args []string) error {
	if !logStderr && logFile != "" {
		var err error
		logWriter, err = os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("kinesis: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("kinesis: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("kinesis starting")
	return nil
}

func kinesisPostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("kinesis done")
	if logWriter != nil {
		logWriter.Close()
	}
}
