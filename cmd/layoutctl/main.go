// Command layoutctl analyzes screenshots locally and submits jobs to the
// layout worker queue.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/blueprint-ai/layout-worker/internal/bbox"
	"github.com/blueprint-ai/layout-worker/internal/config"
	"github.com/blueprint-ai/layout-worker/internal/logging"
	"github.com/blueprint-ai/layout-worker/internal/processor"
	"github.com/blueprint-ai/layout-worker/internal/queue"
	"github.com/blueprint-ai/layout-worker/internal/regions"
	"github.com/blueprint-ai/layout-worker/internal/storage"
)

type rootOptions struct {
	envFile string
	verbose bool
}

func main() {
	if err := runWithArgs(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"layoutctl"}
	}
	cmd := newRootCmd()
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "layoutctl",
		Short:         "Screenshot layout analysis tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile != "" {
				if err := godotenv.Load(opts.envFile); err != nil {
					return fmt.Errorf("failed to load %s: %w", opts.envFile, err)
				}
			}
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			logging.SetOutput(cmd.ErrOrStderr())
			return logging.SetLevel(level)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Load environment variables from this file first")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress to stderr")

	cmd.AddCommand(newAnalyzeCmd(), newBoxesCmd(), newClassifyCmd(), newEnqueueCmd(), newStatusCmd())
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var withImage bool
	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Run OCR, box reduction and region naming on a screenshot and print the result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			cfg := config.Load()
			if err := cfg.ValidateAnalysis(); err != nil {
				return err
			}
			analyzer, err := processor.NewAnalyzerFromConfig(cfg)
			if err != nil {
				return err
			}

			analysis, err := analyzer.Analyze(cmd.Context(), data)
			if err != nil {
				return err
			}
			if !withImage {
				analysis.CompressedBase64 = ""
			}

			out, err := processor.MarshalAnalysis(analysis)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().BoolVar(&withImage, "with-image", false, "Include the compressed screenshot in the output")
	return cmd
}

type boxesOptions struct {
	maxBoxes      int
	minConfidence float64
}

func newBoxesCmd() *cobra.Command {
	opts := &boxesOptions{}
	cmd := &cobra.Command{
		Use:   "boxes <records.json>",
		Short: "Filter and summarize a JSON array of OCR records without running OCR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			items, err := bbox.DecodeItems(data)
			if err != nil {
				return err
			}
			// Read the environment here so values from --env-file apply.
			pc := config.Load().PipelineConfig()
			if cmd.Flags().Changed("max-boxes") {
				pc.MaxBoxCount = opts.maxBoxes
			}
			if cmd.Flags().Changed("min-confidence") {
				pc.MinConfidence = opts.minConfidence
			}
			result, err := bbox.Run(items, pc)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return err
		},
	}
	cmd.Flags().IntVar(&opts.maxBoxes, "max-boxes", 80, "Maximum boxes to keep, the last one summarizing the rest (default from MAX_BBOXES)")
	cmd.Flags().Float64Var(&opts.minConfidence, "min-confidence", 30, "Drop records below this confidence (default from MIN_CONFIDENCE)")
	return cmd
}

type classifyOptions struct {
	rect       []int
	canvas     []int
	thresholds string
}

func newClassifyCmd() *cobra.Command {
	opts := &classifyOptions{}
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Name a region rectangle as sidebar, topNav, rightSidebar, footer or bodyRegion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.rect) != 4 {
				return fmt.Errorf("--rect needs minX,minY,maxX,maxY")
			}
			if len(opts.canvas) != 2 {
				return fmt.Errorf("--canvas needs width,height")
			}

			th := regions.DefaultThresholds()
			if opts.thresholds != "" {
				var err error
				if th, err = config.LoadThresholds(opts.thresholds); err != nil {
					return err
				}
			}

			rect := regions.ComponentRect{MinX: opts.rect[0], MinY: opts.rect[1], MaxX: opts.rect[2], MaxY: opts.rect[3]}
			label := regions.Classify(rect, opts.canvas[0], opts.canvas[1], th)
			_, err := fmt.Fprintln(cmd.OutOrStdout(), label)
			return err
		},
	}
	cmd.Flags().IntSliceVar(&opts.rect, "rect", nil, "Region as minX,minY,maxX,maxY")
	cmd.Flags().IntSliceVar(&opts.canvas, "canvas", nil, "Canvas as width,height")
	cmd.Flags().StringVar(&opts.thresholds, "thresholds", "", "YAML file overriding the classifier thresholds")
	_ = cmd.MarkFlagRequired("rect")
	_ = cmd.MarkFlagRequired("canvas")
	return cmd
}

type enqueueOptions struct {
	description    string
	skipGeneration bool
	byURL          bool
	jobID          string
}

func newEnqueueCmd() *cobra.Command {
	opts := &enqueueOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue <image>",
		Short: "Submit a screenshot to the worker queue and print the job id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			payload := &queue.JobPayload{
				JobID:          opts.jobID,
				Description:    opts.description,
				SkipGeneration: opts.skipGeneration,
			}
			if opts.byURL {
				payload.ImageURL = args[0]
			} else {
				data, err := readInput(cmd.InOrStdin(), args[0])
				if err != nil {
					return err
				}
				payload.ImageBuffer = data
				payload.Filename = filepath.Base(args[0])
			}

			submitter, err := newSubmitter(cfg)
			if err != nil {
				return err
			}
			defer submitter.Close()

			jobID, err := submitter.Submit(cmd.Context(), payload)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return err
		},
	}
	cmd.Flags().StringVar(&opts.description, "description", "", "What the screenshot shows, passed to layout generation")
	cmd.Flags().BoolVar(&opts.skipGeneration, "skip-generation", false, "Store the analysis without generating a layout")
	cmd.Flags().BoolVar(&opts.byURL, "url", false, "Treat the argument as an image URL the worker downloads")
	cmd.Flags().StringVar(&opts.jobID, "job-id", "", "Job id to use instead of a generated UUID")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var withResult bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job's status row, and optionally its stored layout result, as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			db, err := storage.NewPostgresClient(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			job, err := db.GetJobByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := map[string]interface{}{"job": job}

			if resultID, ok := job["resultId"].(string); ok && withResult {
				rec, err := db.GetLayoutResult(cmd.Context(), resultID)
				if err != nil {
					return err
				}
				out["result"] = rec
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().BoolVar(&withResult, "result", false, "Include the stored layout result")
	return cmd
}

func newSubmitter(cfg *config.Config) (queue.JobSubmitter, error) {
	if cfg.QueueBackend == config.QueueBackendAsynq {
		return queue.NewEnqueuer(cfg.RedisURL, cfg.QueueName, 0, int64(cfg.ProcessingTimeout))
	}
	return queue.NewRedisEnqueuer(cfg.RedisURL, cfg.QueueName, 0)
}

// readInput reads path, or stdin when path is "-"
func readInput(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return data, nil
}

