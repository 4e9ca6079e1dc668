package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/abworrall/stereo-pprc/pkg/stereo"
)

func initLogger(debugMode bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	if debugMode {
		logger.SetLevel(logrus.DebugLevel)
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		logger.Debug("Debug logging enabled")
	} else {
		logger.SetLevel(logrus.InfoLevel)
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	}

	return logger
}

func newRootCmd() *cobra.Command {
	var (
		configFile     string
		matchFile      string
		debug          bool
		verbosity      int
		alignment      string
		normalizeRange string
		individually   bool
		adjustLeft     bool
		compression    string
		workers        int
	)

	cmd := &cobra.Command{
		Use:   "stereo-pprc [flags] <left.tif> <right.tif> <out-prefix>",
		Short: "Align and normalize a stereo pair of images",
		Long: `Crops, masks, aligns and normalizes a pair of single band images, writing
<out-prefix>-L.tif and <out-prefix>-R.tif for a stereo correlator, along with
the alignment matrices. Existing outputs are reused unless cropping is asked for.`,
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := initLogger(debug)

			cfg := stereo.NewConfig()
			if configFile != "" {
				var err error
				if cfg, err = stereo.LoadConfig(configFile); err != nil {
					return err
				}
			}

			// Flags win over the config file, but only if given
			flags := cmd.Flags()
			if flags.Changed("alignment-method") {
				cfg.AlignmentMethod = alignment
			}
			if flags.Changed("normalize-range") {
				cfg.NormalizeRange = normalizeRange
			}
			if flags.Changed("individually-normalize") {
				cfg.IndividuallyNormalize = individually
			}
			if flags.Changed("adjust-left-image-size") {
				cfg.AdjustLeftImageSize = adjustLeft
			}
			if flags.Changed("compression") {
				cfg.Compression = compression
			}
			if flags.Changed("workers") {
				cfg.Workers = workers
			}
			if flags.Changed("verbosity") {
				cfg.Verbosity = verbosity
			}
			if err := cfg.Finalize(); err != nil {
				return err
			}

			if cfg.Verbosity > 0 {
				log.Debugf("Final configuration:-\n\n%s\n", cfg.AsYaml())
			}

			p := stereo.Preprocessor{Config: cfg, Log: log}
			if matchFile != "" {
				p.Matcher = stereo.MatchFileMatcher{Path: matchFile}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			res, err := p.Run(ctx, stereo.Request{LeftInput: args[0], RightInput: args[1], OutPrefix: args[2]})
			if err != nil {
				return err
			}

			fmt.Printf("%s\n%s\n", res.LeftOutput, res.RightOutput)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "YAML config file")
	f.StringVar(&matchFile, "match-file", "", "interest point pairs for the two images, from an external matcher")
	f.BoolVar(&debug, "debug", false, "human readable debug logging")
	f.IntVarP(&verbosity, "verbosity", "v", 0, "how verbose to get; >0 also writes preview PNGs")
	f.StringVar(&alignment, "alignment-method", "affineepipolar", "none, homography, affineepipolar or epipolar")
	f.StringVar(&normalizeRange, "normalize-range", "entire", "entire, stddev or percentile")
	f.BoolVar(&individually, "individually-normalize", false, "stretch each image by its own statistics")
	f.BoolVar(&adjustLeft, "adjust-left-image-size", false, "grow the output so none of the right image is lost")
	f.StringVar(&compression, "compression", "deflate", "none or deflate")
	f.IntVar(&workers, "workers", 0, "blocks processed in parallel; 0 means one per CPU")

	return cmd
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
