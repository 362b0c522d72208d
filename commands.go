package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"comfyclient/comfyapi"
	"comfyclient/core"
	"comfyclient/ledger"
	"comfyclient/workflow"
)

// RootOptions holds global flags for all commands. Set flags override the
// matching environment variables.
type RootOptions struct {
	Server    string
	OutputDir string
	NoLedger  bool
	Verbose   bool
	Timeout   time.Duration

	timeoutSet bool
}

// NewRootCommand creates the root command for the comfyclient CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "comfyclient",
		Short:   "Run prompts on a ComfyUI server and collect the images",
		Version: core.VersionInfo(),
		Long: `comfyclient submits prompt graphs to a ComfyUI server, waits for them
to finish over the server's event channel and saves every output image.

Configuration is read from the environment (and a .env file):
  COMFY_SERVER, COMFY_CLIENT_ID, COMFY_AUTH_TOKEN, COMFY_OUTPUT_DIR,
  COMFY_LEDGER_PATH, COMFY_HTTP_TIMEOUT, COMFY_JOB_TIMEOUT,
  COMFY_PING_INTERVAL, COMFY_LOG_FILE, COMFY_LOG_LEVEL, DEV_MODE,
  ALLOW_SELF_SIGNED_CERTS`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.timeoutSet = cmd.Flags().Changed("timeout")
			if opts.timeoutSet && opts.Timeout < 0 {
				return core.ErrInvalidValue("--timeout", "must not be negative")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", "", "server address, host:port or http(s) URL (default $COMFY_SERVER)")
	cmd.PersistentFlags().StringVarP(&opts.OutputDir, "output", "o", "", "directory for saved images (default $COMFY_OUTPUT_DIR)")
	cmd.PersistentFlags().BoolVar(&opts.NoLedger, "no-ledger", false, "do not record jobs in the ledger")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 0, "give up waiting for a job after this long, 0 waits forever (default $COMFY_JOB_TIMEOUT)")

	cmd.AddCommand(NewTxt2ImgCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewFetchCommand(opts))
	cmd.AddCommand(NewUploadCommand(opts))
	cmd.AddCommand(NewInterruptCommand(opts))
	cmd.AddCommand(NewJobsCommand(opts))

	return cmd
}

// Txt2ImgOptions holds flags for the txt2img command.
type Txt2ImgOptions struct {
	*RootOptions
	Graph workflow.Txt2ImgOptions
	Lora  workflow.LoraOptions
}

// NewTxt2ImgCommand creates the txt2img command.
func NewTxt2ImgCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &Txt2ImgOptions{
		RootOptions: rootOpts,
		Graph:       workflow.DefaultTxt2ImgOptions(),
		Lora:        workflow.DefaultLoraOptions(),
	}
	var loraName string

	cmd := &cobra.Command{
		Use:   "txt2img",
		Short: "Generate images from a text prompt",
		Long: `Build the stock text-to-image graph, run it and save the results.

Example:
  comfyclient txt2img --positive "a lighthouse at dusk" --seed 42
  comfyclient txt2img --lora epiNoiseoffset_v2.safetensors --steps 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Graph.Seed < 0 {
				opts.Graph.Seed = rand.Int64N(1 << 48)
			}
			prompt := workflow.Txt2Img(opts.Graph)
			if loraName != "" {
				opts.Lora.Name = loraName
				prompt = workflow.Txt2ImgLora(opts.Graph, opts.Lora)
			}
			return runGeneration(opts.RootOptions, cmd, prompt)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Graph.Positive, "positive", opts.Graph.Positive, "positive prompt text")
	f.StringVar(&opts.Graph.Negative, "negative", opts.Graph.Negative, "negative prompt text")
	f.Int64Var(&opts.Graph.Seed, "seed", opts.Graph.Seed, "sampler seed, negative picks a random one")
	f.IntVar(&opts.Graph.Steps, "steps", opts.Graph.Steps, "sampling steps")
	f.Float64Var(&opts.Graph.CFG, "cfg", opts.Graph.CFG, "classifier-free guidance scale")
	f.StringVar(&opts.Graph.Sampler, "sampler", opts.Graph.Sampler, "sampler name")
	f.StringVar(&opts.Graph.Scheduler, "scheduler", opts.Graph.Scheduler, "scheduler name")
	f.IntVar(&opts.Graph.Width, "width", opts.Graph.Width, "image width")
	f.IntVar(&opts.Graph.Height, "height", opts.Graph.Height, "image height")
	f.IntVar(&opts.Graph.BatchSize, "batch", opts.Graph.BatchSize, "images per run")
	f.StringVar(&opts.Graph.Checkpoint, "ckpt", opts.Graph.Checkpoint, "checkpoint file name")
	f.StringVar(&opts.Graph.FilenamePrefix, "prefix", opts.Graph.FilenamePrefix, "server-side filename prefix")
	f.StringVar(&loraName, "lora", "", "LoRA file name, empty for none")
	f.Float64Var(&opts.Lora.StrengthModel, "lora-strength", opts.Lora.StrengthModel, "LoRA strength for the model")
	f.Float64Var(&opts.Lora.StrengthClip, "lora-clip-strength", opts.Lora.StrengthClip, "LoRA strength for CLIP")

	return cmd
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Seed int64
	Set  []string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Run a prompt graph from a JSON or YAML file",
		Long: `Run a graph saved with "Save (API Format)", or the same structure in YAML.

Inputs can be overridden before submission with --set node.input=value.
Values are parsed as YAML scalars, so numbers and booleans keep their type.

Example:
  comfyclient run ./workflow_api.json --seed 7
  comfyclient run ./graph.yaml --set 6.text="a red fox" --set 3.steps=30`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := workflow.LoadFile(args[0])
			if err != nil {
				return wrapExitError(core.ExitCodeConfig, "failed to load workflow", err)
			}
			prompt, err = applyOverrides(prompt, opts, cmd.Flags().Changed("seed"))
			if err != nil {
				return wrapExitError(core.ExitCodeConfig, "invalid override", err)
			}
			return runGeneration(opts.RootOptions, cmd, prompt)
		},
	}

	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "replace the seed of every KSampler node")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "override an input, node.input=value (repeatable)")

	return cmd
}

// applyOverrides applies --seed and --set to a copy of prompt.
func applyOverrides(prompt comfyapi.Prompt, opts *RunOptions, seedSet bool) (comfyapi.Prompt, error) {
	if seedSet {
		prompt = workflow.SetSeed(prompt, opts.Seed)
	}
	for _, assignment := range opts.Set {
		nodeID, input, value, err := parseAssignment(assignment)
		if err != nil {
			return nil, err
		}
		prompt, err = workflow.SetInput(prompt, nodeID, input, value)
		if err != nil {
			return nil, err
		}
	}
	if err := workflow.Validate(prompt); err != nil {
		return nil, err
	}
	return prompt, nil
}

// parseAssignment splits "node.input=value" and decodes value as a YAML
// scalar. Anything that does not decode to a scalar stays a string.
func parseAssignment(s string) (nodeID, input string, value interface{}, err error) {
	key, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", nil, fmt.Errorf("%q: expected node.input=value", s)
	}
	nodeID, input, ok = strings.Cut(key, ".")
	if !ok || nodeID == "" || input == "" {
		return "", "", nil, fmt.Errorf("%q: expected node.input=value", s)
	}

	var decoded interface{}
	if err := yaml.Unmarshal([]byte(raw), &decoded); err != nil {
		return nodeID, input, raw, nil
	}
	switch decoded.(type) {
	case int, float64, bool, string:
		return nodeID, input, decoded, nil
	default:
		return nodeID, input, raw, nil
	}
}

// FetchOptions holds flags for the fetch command.
type FetchOptions struct {
	*RootOptions
	Wait bool
}

// NewFetchCommand creates the fetch command.
func NewFetchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FetchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fetch <prompt-id>",
		Short: "Save the images of a prompt that was queued earlier",
		Long: `Download every output image of a finished prompt.

With --wait the command first waits for the prompt to finish. A prompt
that already finished before the wait starts is never reported, so only
use --wait for prompts that are still queued or running.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts.RootOptions, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			gen, err := a.fetch(args[0], opts.Wait)
			if err != nil {
				return err
			}
			printGeneration(a.stdout, gen.handle, gen.stored, gen.elapsed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.Wait, "wait", false, "wait for the prompt to finish first")

	return cmd
}

// UploadOptions holds flags for the upload command.
type UploadOptions struct {
	*RootOptions
	Mask              bool
	Original          string
	OriginalSubfolder string
	OriginalType      string
	Subfolder         string
	Type              string
	Overwrite         bool
}

// NewUploadCommand creates the upload command.
func NewUploadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UploadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload an image or mask for use by LoadImage nodes",
		Long: `Upload a local image to the server's input directory.

With --mask the file is uploaded as a mask for an image uploaded earlier,
named by --original.

Example:
  comfyclient upload ./photo.png
  comfyclient upload ./mask.png --mask --original photo.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Mask && opts.Original == "" {
				return wrapExitError(core.ExitCodeConfig, "--mask needs --original", nil)
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return wrapExitError(core.ExitCodeError, "failed to read image", err)
			}

			a, err := newApp(opts.RootOptions, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.jobContext()
			defer cancel()

			uploadOpts := comfyapi.UploadOptions{
				Overwrite: opts.Overwrite,
				Subfolder: opts.Subfolder,
				Type:      opts.Type,
			}
			name := filepath.Base(args[0])

			var result *comfyapi.UploadImageResult
			if opts.Mask {
				original := comfyapi.ImageRef{
					Filename:  opts.Original,
					Subfolder: opts.OriginalSubfolder,
					Type:      opts.OriginalType,
				}
				result, err = a.client.UploadMask(ctx, data, name, original, uploadOpts)
			} else {
				result, err = a.client.UploadImage(ctx, data, name, uploadOpts)
			}
			if err != nil {
				return err
			}
			printUpload(a.stdout, result)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.Mask, "mask", false, "upload as a mask")
	f.StringVar(&opts.Original, "original", "", "file name of the image the mask applies to")
	f.StringVar(&opts.OriginalSubfolder, "original-subfolder", "", "subfolder of the original image")
	f.StringVar(&opts.OriginalType, "original-type", "", "storage type of the original image")
	f.StringVar(&opts.Subfolder, "subfolder", "", "target subfolder")
	f.StringVar(&opts.Type, "type", "", "storage type: input, temp or output (server default input)")
	f.BoolVar(&opts.Overwrite, "overwrite", false, "replace an existing file of the same name")

	return cmd
}

// NewInterruptCommand creates the interrupt command.
func NewInterruptCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "Stop the prompt the server is currently executing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := a.jobContext()
			defer cancel()

			if err := a.client.Interrupt(ctx); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "✓ interrupt sent")
			return nil
		},
	}
}

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	Limit int
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs [prompt-id]",
		Short: "List recorded jobs, or show one job and its images",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.NoLedger {
				return wrapExitError(core.ExitCodeConfig, "jobs needs the ledger", nil)
			}
			a, err := newApp(opts.RootOptions, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			if !a.cfg.HasLedger() {
				return wrapExitError(core.ExitCodeConfig, "jobs needs the ledger, set COMFY_LEDGER_PATH", nil)
			}
			if err := a.openLedger(); err != nil {
				return err
			}
			ctx := a.manager.Context()

			if len(args) == 1 {
				job, err := a.ledger.GetJob(ctx, args[0])
				if err != nil {
					return err
				}
				records, err := a.ledger.ListArtifacts(ctx, job.PromptID)
				if err != nil {
					return err
				}
				printJob(a.stdout, job, records)
				return nil
			}

			var counts []jobCount
			for _, status := range []string{ledger.StatusCompleted, ledger.StatusFailed, ledger.StatusQueued} {
				n, err := a.ledger.CountJobs(ctx, status)
				if err != nil {
					return err
				}
				counts = append(counts, jobCount{status: status, count: n})
			}

			jobs, err := a.ledger.ListJobs(ctx, opts.Limit)
			if err != nil {
				return err
			}
			printJobs(a.stdout, counts, jobs, time.Now().UTC())
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 10, "number of jobs to list")
	cmd.AddCommand(NewPruneCommand(rootOpts))

	return cmd
}

// NewPruneCommand creates the jobs prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget finished jobs older than --older-than",
		Long: `Delete finished jobs and their artifact records from the ledger.
Saved image files are left in place.

Example:
  comfyclient jobs prune --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return core.ErrInvalidValue("--older-than", "must not be negative")
			}
			a, err := newApp(rootOpts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.close()

			if !a.cfg.HasLedger() {
				return wrapExitError(core.ExitCodeConfig, "prune needs the ledger, set COMFY_LEDGER_PATH", nil)
			}
			if err := a.openLedger(); err != nil {
				return err
			}

			result, err := a.ledger.Prune(a.manager.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "✓ pruned %d jobs and %d artifact records\n", result.JobsDeleted, result.ArtifactsDeleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "minimum age of the jobs to delete")

	return cmd
}

// runGeneration runs prompt end to end and prints the saved images.
func runGeneration(opts *RootOptions, cmd *cobra.Command, prompt comfyapi.Prompt) error {
	a, err := newApp(opts, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.close()

	gen, err := a.generate(prompt)
	if err != nil {
		return err
	}
	printGeneration(a.stdout, gen.handle, gen.stored, gen.elapsed)
	return nil
}
