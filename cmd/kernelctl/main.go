// Command kernelctl is an operator tool for the storage kernel. It never
// lives inside the library: the library itself exposes no CLI, environment,
// or network surface. kernelctl only wires viper configuration and a zap
// production logger around pkg/storage and pkg/index for out-of-band
// inspection and backup.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "kernelctl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: kernelctl <stats|backup|restore> ...")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	switch args[0] {
	case "stats":
		fs := flag.NewFlagSet("stats", flag.ExitOnError)
		configPath := fs.String("config", "", "path to kernelctl.yaml")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: kernelctl stats [-config path] <db-path>")
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		return runStats(fs.Arg(0), cfg, logger)

	case "backup":
		fs := flag.NewFlagSet("backup", flag.ExitOnError)
		configPath := fs.String("config", "", "path to kernelctl.yaml")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: kernelctl backup [-config path] <db-path> <archive>")
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		return runBackup(fs.Arg(0), fs.Arg(1), cfg, logger)

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 2 {
			return fmt.Errorf("usage: kernelctl restore <archive> <dest-dir>")
		}
		return runRestore(fs.Arg(0), fs.Arg(1), logger)

	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}
