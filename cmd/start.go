package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/EdgeKing810/kinesis-db/command"
	"github.com/EdgeKing810/kinesis-db/engine"
	"github.com/EdgeKing810/kinesis-db/format"
	"github.com/EdgeKing810/kinesis-db/recovery"
	"github.com/EdgeKing810/kinesis-db/txn"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Open a database and run a REPL or one-shot commands",
		RunE:  startRun,
	}

	outputFormat = "Standard"
	scriptArgs   = []string{}
)

func init() {
	initStartFlags(startCmd.Flags())
	kinesisCmd.AddCommand(startCmd)
}

func initStartFlags(fs *pflag.FlagSet) {
	fs.StringVar(&outputFormat, "format", outputFormat, "output format: Standard, JSON, or Table")
	fs.StringSliceVar(&scriptArgs, "command", scriptArgs, "a command to run; multiple allowed")
}

func openEngine() (*engine.Engine, error) {
	backing, ok := engine.ParseBacking(cfg.StorageEngine)
	if !ok {
		return nil, fmt.Errorf("kinesis: unknown storage_engine %q", cfg.StorageEngine)
	}
	iso, ok := txn.ParseIsolation(cfg.IsolationDefault)
	if !ok {
		return nil, fmt.Errorf("kinesis: unknown isolation_default %q", cfg.IsolationDefault)
	}
	pending, ok := recovery.ParsePolicy(cfg.PendingRecoveryPolicy)
	if !ok {
		return nil, fmt.Errorf("kinesis: unknown pending_recovery_policy %q", cfg.PendingRecoveryPolicy)
	}

	return engine.Open(engine.Options{
		Backing:          backing,
		DataDir:          cfg.DataDir,
		PageSize:         cfg.PageSize,
		BufferPoolPages:  cfg.BufferPoolPages,
		WALSegmentMax:    cfg.WALSegmentMax,
		DefaultIsolation: iso,
		LockTimeout:      cfg.LockTimeout(),
		PendingRecovery:  pending,
	})
}

// startRun opens the engine configured by cfg, then either runs the
// --command/file arguments one-shot or, if none were given, drops into
// an interactive REPL.
func startRun(cmd *cobra.Command, args []string) error {
	kind, ok := format.ParseKind(outputFormat)
	if !ok {
		return fmt.Errorf("kinesis: unknown --format %q", outputFormat)
	}

	e, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	for _, src := range scriptArgs {
		RunCommands(e, command.NewParser(strings.NewReader(src)), os.Stdout, kind)
	}

	for _, path := range args {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("kinesis: %s", err)
		}
		RunCommands(e, command.NewParser(f), os.Stdout, kind)
		f.Close()
	}

	if len(args) == 0 && len(scriptArgs) == 0 {
		Interact(e, kind)
	}

	if cfg.StorageEngine != "InMemory" {
		if err := e.Checkpoint(); err != nil {
			return fmt.Errorf("kinesis: checkpoint: %s", err)
		}
	}
	return nil
}
