// cmd/inpaint/cmd.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/SyedDaiam9101/lama-service/internal/assets"
	"github.com/SyedDaiam9101/lama-service/internal/codec"
	"github.com/SyedDaiam9101/lama-service/internal/handler"
	"github.com/SyedDaiam9101/lama-service/internal/inference"
	"github.com/SyedDaiam9101/lama-service/internal/lama"
	"github.com/SyedDaiam9101/lama-service/internal/logging"
)

// errNoResult is returned when the model produced no output image.
var errNoResult = errors.New("inpainting produced no result")

type runOptions struct {
	image      string
	mask       string
	out        string
	model      string
	ortLibrary string
	outputName string
	interOp    int
	intraOp    int
	remote     string
	timeout    time.Duration
	verbose    bool
}

// NewCLI builds the command tree.
func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "inpaint",
		Short:         "Remove objects from photos with LaMa",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Inpaint the masked region of a photo and write the result as PNG",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			mode := "release"
			if opts.verbose {
				mode = "debug"
			}
			return logging.Init(mode)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandler(cmd.Context(), opts)
		},
	}

	runCmd.Flags().StringVar(&opts.image, "image", "", "Photo to inpaint")
	runCmd.Flags().StringVar(&opts.mask, "mask", "", "Mask; any non-black pixel is inpainted")
	runCmd.Flags().StringVarP(&opts.out, "out", "o", "out.png", "Output PNG path")
	runCmd.Flags().StringVar(&opts.model, "model", "lama_fp32.onnx", "Path to ONNX model file")
	runCmd.Flags().StringVar(&opts.ortLibrary, "ort-library", "", "Path to the onnxruntime shared library")
	runCmd.Flags().StringVar(&opts.outputName, "output-name", "output", "Name of the model's image output")
	runCmd.Flags().IntVar(&opts.interOp, "inter-op-threads", 4, "Inter-op thread count hint")
	runCmd.Flags().IntVar(&opts.intraOp, "intra-op-threads", 4, "Intra-op thread count hint")
	runCmd.Flags().StringVar(&opts.remote, "remote", "", "Address of a lama-service gRPC server; runs locally when empty")
	runCmd.Flags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "Timeout for remote calls")
	runCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log stage timings")
	runCmd.MarkFlagRequired("image")
	runCmd.MarkFlagRequired("mask")

	rootCmd.AddCommand(runCmd)
	return rootCmd
}

func runHandler(ctx context.Context, opts runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.remote != "" {
		return runRemote(ctx, opts)
	}

	newEngine := inference.Options{
		SharedLibrary:  opts.ortLibrary,
		InputNames:     []string{lama.ImageInput, lama.MaskInput},
		OutputNames:    []string{opts.outputName},
		OutputShapes:   [][]int64{codec.OutputShape},
		InterOpThreads: opts.interOp,
		IntraOpThreads: opts.intraOp,
	}.Factory()
	defer inference.Shutdown()

	return runLocal(ctx, opts, assets.File(opts.model), newEngine)
}

// runLocal loads the photo and mask, runs one session and writes the result.
func runLocal(ctx context.Context, opts runOptions, model assets.ModelSource, newEngine inference.Factory) error {
	start := time.Now()
	log := logging.L()

	session, err := lama.New(ctx, model, newEngine)
	if err != nil {
		return err
	}
	defer session.Close()

	img, err := assets.File(opts.image).Image()
	if err != nil {
		return err
	}
	mask, err := assets.File(opts.mask).Image()
	if err != nil {
		return err
	}

	res, err := session.Run(ctx, img, mask)
	if err != nil {
		return err
	}
	if res.Empty() {
		return errNoResult
	}

	if err := assets.File(opts.out).Put(res.Image); err != nil {
		return err
	}

	log.Info("inpainted",
		zap.String("out", opts.out),
		zap.Duration("preprocess", res.Timings.Preprocess),
		zap.Duration("session", res.Timings.Session),
		zap.Duration("postprocess", res.Timings.Postprocess),
		zap.Duration("total", time.Since(start)))
	return nil
}

// runRemote sends the encoded files to a server and writes the PNG it returns.
func runRemote(ctx context.Context, opts runOptions) error {
	image, err := readFile(opts.image)
	if err != nil {
		return err
	}
	mask, err := readFile(opts.mask)
	if err != nil {
		return err
	}

	conn, err := grpc.NewClient(opts.remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", opts.remote, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	resp, err := handler.NewClient(conn).Inpaint(ctx, handler.InpaintRequest{Image: image, Mask: mask},
		grpc.MaxCallRecvMsgSize(64<<20), grpc.MaxCallSendMsgSize(64<<20))
	if err != nil {
		return fmt.Errorf("inpaint request failed: %w", err)
	}
	if !resp.HasResult {
		return errNoResult
	}

	img, err := assets.Bytes(resp.Image).Image()
	if err != nil {
		return err
	}
	if err := assets.File(opts.out).Put(img); err != nil {
		return err
	}

	logging.L().Info("inpainted",
		zap.String("out", opts.out),
		zap.String("remote", opts.remote),
		zap.Bool("cached", resp.Cached),
		zap.Float64("session_ms", resp.SessionMs))
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
