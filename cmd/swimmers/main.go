package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/pthm-cable/swimmers/config"
	"github.com/pthm-cable/swimmers/sim"
	"github.com/pthm-cable/swimmers/telemetry"
	"github.com/pthm-cable/swimmers/tracking"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "swimmers",
		Short:         "Track swimmer particles through an unstructured flow field",
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(runCommand(), aliveCommand())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func runCommand() *cobra.Command {
	var (
		configPath  string
		outputDir   string
		snapshotDir string
		resume      string
		seed        int64
		steps       int
		logStats    bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the tracker over the configured field",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Init(configPath); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg := config.Cfg()

			// Flags override the config file only when set
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
			if !changed["output-dir"] {
				outputDir = cfg.Output.Dir
			}
			if cfg.Output.Snapshot && snapshotDir == "" {
				snapshotDir = outputDir
			}

			src, err := sim.NewSource(cfg)
			if err != nil {
				return err
			}
			s, err := sim.New(cfg, src, sim.NewIntegrator(cfg), sim.Options{
				Seed:        seed,
				LogStats:    logStats,
				OutputDir:   outputDir,
				SnapshotDir: snapshotDir,
			})
			if err != nil {
				return err
			}
			defer s.Close()

			if resume != "" {
				snap, err := telemetry.LoadSnapshot(resume)
				if err != nil {
					return err
				}
				if err := s.Resume(snap); err != nil {
					return err
				}
			}

			slog.Info("starting run",
				"seed", s.Seed(),
				"step", s.StepIndex(),
				"steps", steps,
				"field", cfg.Field.Kind,
				"cells", s.Mesh().Len(),
				"output_dir", outputDir,
			)
			if err := s.Run(steps); err != nil {
				return err
			}
			slog.Info("run complete",
				"step", s.StepIndex(),
				"time", s.Clock(),
				"live", s.Tracker().Len(),
				"rows", s.Log().Len(),
			)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "path to config.yaml (empty = use defaults)")
	f.StringVar(&outputDir, "output-dir", "", "output directory for CSV logs and config snapshot")
	f.StringVar(&snapshotDir, "snapshot-dir", "", "directory for snapshot files")
	f.StringVar(&resume, "resume", "", "snapshot file to resume from")
	f.Int64Var(&seed, "seed", 0, "RNG seed (0 = run.seed, then time-based)")
	f.IntVar(&steps, "steps", 0, "steps to run (0 = run.steps)")
	f.BoolVar(&logStats, "log-stats", false, "output step stats via slog")
	return cmd
}

// aliveOutput is the JSON printed by the alive command.
type aliveOutput struct {
	T          float64     `json:"t"`
	Alive      []aliveItem `json:"alive,omitempty"`
	Error      string      `json:"error,omitempty"`
	Duplicates []uint64    `json:"duplicates,omitempty"`
	Missing    []uint64    `json:"missing,omitempty"`
}

type aliveItem struct {
	ID uint64  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
}

func aliveCommand() *cobra.Command {
	var t float64

	cmd := &cobra.Command{
		Use:   "alive <trajectories.csv>",
		Short: "Print the particles alive at a step boundary of a trajectory log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			table, err := telemetry.ReadRows(f)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if !cmd.Flags().Changed("t") {
				t = table.Horizon()
			}

			out := aliveOutput{T: t}
			known, err := tracking.New(tracking.Options{}).RecoverAlive(table, t)
			var (
				dup     *tracking.DuplicateRowsError
				missing *tracking.MissingBoundaryError
			)
			switch {
			case errors.As(err, &dup):
				out.Error = err.Error()
				out.Duplicates = dup.IDs
			case errors.As(err, &missing):
				out.Error = err.Error()
				out.Missing = missing.IDs
			case err != nil:
				out.Error = err.Error()
			}
			for _, k := range known {
				out.Alive = append(out.Alive, aliveItem{ID: k.ID, X: k.Pos.X, Y: k.Pos.Y, Z: k.Pos.Z})
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return err
		},
	}
	cmd.Flags().Float64Var(&t, "t", 0, "step boundary time (default: latest time in the log)")
	return cmd
}
