package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/fang"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"dedupe-go/internal/analysis"
	"dedupe-go/internal/config"
	"dedupe-go/internal/graph"
	"dedupe-go/internal/remover"
	"dedupe-go/internal/report"
	"dedupe-go/internal/resolve"
	"dedupe-go/internal/tree"
)

var (
	configPath string
	debug      bool
	exhaustive bool
	workers    int
	storageDir string
	outputPath string
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "dedupe-go",
	Short: "Find duplicate files and directories and decide what to keep",
	Long: `dedupe-go indexes one or more directories, finds duplicated files and
directory trees, and computes which copies to keep so that every duplicate
is accounted for exactly once. Whole duplicate directories are reported as
a single deletion.

Analysis results are cached per set of directories under the storage
directory and reused or merged by later runs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze DIR...",
	Short: "Index and hash directories without resolving",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAnalyze,
}

var compareCmd = &cobra.Command{
	Use:   "compare DIR...",
	Short: "Report what would be kept and deleted",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCompare,
}

var deleteCmd = &cobra.Command{
	Use:   "delete DIR...",
	Short: "Delete every duplicate that compare reports",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func init() {
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "config.yaml", "Config file path")
	flags.BoolVar(&debug, "debug", false, "Verbose diagnostics")
	flags.BoolVar(&exhaustive, "exhaustive", false, "Verify duplicates with a full-content hash")
	flags.IntVarP(&workers, "workers", "w", 0, "Number of hashing goroutines (default from config)")
	flags.StringVar(&storageDir, "storage", "", "Directory holding analysis stores (default from config)")

	analyzeCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the duplicate fingerprint to this JSON file")

	rootCmd.AddCommand(analyzeCmd, compareCmd, deleteCmd)
}

func newAnalyzer(cmd *cobra.Command) (*analysis.Analyzer, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("exhaustive") {
		cfg.Exhaustive = exhaustive
	}
	if flags.Changed("workers") && workers > 0 {
		cfg.Workers = workers
	}
	if flags.Changed("storage") && storageDir != "" {
		cfg.StorageDir = storageDir
	}

	return analysis.New(analysis.Options{
		StorageDir:     cfg.StorageDir,
		Exclude:        cfg.Exclude,
		Workers:        cfg.Workers,
		Exhaustive:     cfg.Exhaustive,
		PrescanTimeout: cfg.PrescanTimeout,
		Progress:       true,
		Fs:             afero.NewOsFs(),
		Logger:         log,
	}), nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	a, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}

	sess, err := a.Load(cmd.Context(), args)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	files, emptyDirs, err := sess.Stats()
	if err != nil {
		return err
	}
	set, err := sess.Duplicates(a.Final())
	if err != nil {
		return err
	}
	fp, err := tree.Build(set.Groups)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Analysis stored in %s\n", sess.Path())
	for _, r := range sess.Roots {
		fmt.Printf("  Root: %s\n", r)
	}
	fmt.Printf("  Files: %d, empty directories: %d\n", files, emptyDirs)
	fmt.Printf("  Duplicate groups: %d (%d files, %s reclaimable)\n",
		fp.Groups, fp.Paths, humanize.IBytes(uint64(fp.Reclaim)))
	fmt.Printf("  Fingerprint: %s\n", fp.Root)

	if outputPath != "" {
		if err := tree.Save(fp, sess.Roots, outputPath); err != nil {
			return err
		}
		fmt.Printf("  Output: %s\n", outputPath)
	}
	return nil
}

func resolveDirs(cmd *cobra.Command, a *analysis.Analyzer, args []string) (*resolve.Result, error) {
	set, err := a.Duplicates(cmd.Context(), args)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(afero.NewOsFs(), set, log)
	if err != nil {
		return nil, err
	}
	return resolve.Run(g, resolve.Options{Logger: log})
}

func runCompare(cmd *cobra.Command, args []string) error {
	a, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}
	res, err := resolveDirs(cmd, a, args)
	if err != nil {
		return err
	}
	fmt.Println(report.Format(res))
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newAnalyzer(cmd)
	if err != nil {
		return err
	}
	res, err := resolveDirs(cmd, a, args)
	if err != nil {
		return err
	}
	fmt.Println(report.Format(res))
	if res.Empty() {
		return nil
	}

	paths := res.Deletions()
	removed, err := remover.Remove(afero.NewOsFs(), paths, log)
	fmt.Printf("Removed %d of %d paths\n", removed, len(paths))

	// Stores describing the old contents would report removed paths again.
	if _, ferr := a.Forget(args); ferr != nil {
		log.WithError(ferr).Warn("failed to drop stale analysis stores")
	}
	if err != nil {
		return fmt.Errorf("some deletions failed: %w", err)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := fang.Execute(ctx, rootCmd); err != nil {
		os.Exit(1)
	}
}
