package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/orientation"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/MeKo-Tech/snaprec/internal/transform"
	"github.com/spf13/cobra"
)

const (
	outputFormatText = "text"
	outputFormatJSON = "json"
)

// stateProcessed marks a --no-upload result.
const stateProcessed = "processed"

// processResult is what process prints.
type processResult struct {
	RunID        string       `json:"run_id,omitempty"`
	Source       string       `json:"source"`
	State        string       `json:"state"`
	Filter       string       `json:"filter"`
	Text         string       `json:"text,omitempty"`
	Width        int          `json:"width,omitempty"`
	Height       int          `json:"height,omitempty"`
	PayloadBytes int          `json:"payload_bytes,omitempty"`
	Kind         failure.Kind `json:"kind,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	DurationMs   int64        `json:"duration_ms"`
}

func newProcessCommand(app *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process <image>",
		Short: "Run one image through the capture pipeline",
		Long: `Decode an image file, rotate it upright, apply a filter, encode it and
upload it to the recognition service. The recognized text is printed.

Filters: grayscale, sepia, invert, blur, sharpen, brightness[:factor], contrast[:factor]
Orientations: auto (EXIF), none, 90, 180, 270

Examples:
  snaprec process photo.jpg
  snaprec process photo.jpg --filter sepia --orientation 90
  snaprec process photo.jpg --no-upload --output preview.jpg
  snaprec process photo.jpg --format json --result-file result.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runProcess(cmd, args[0])
		},
	}

	cmd.Flags().String("filter", "", "filter to apply, e.g. sepia or contrast:1.5 (default from config)")
	cmd.Flags().String("orientation", "", "orientation tag: auto, none, 90, 180, 270 (default from config)")
	cmd.Flags().Bool("no-upload", false, "stop after encoding; nothing is sent")
	cmd.Flags().StringP("output", "o", "", "write the processed image as JPEG to this file")
	cmd.Flags().StringP("format", "f", "", "result format: text or json (default from config)")
	cmd.Flags().String("result-file", "", "write the result to this file instead of stdout")
	cmd.Flags().Bool("progress", false, "show per-stage progress on stderr")
	return cmd
}

func (a *cli) runProcess(cmd *cobra.Command, path string) error {
	cfg := a.cfg

	format := cfg.Output.Format
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	if format == "" {
		format = outputFormatText
	}
	if !slices.Contains([]string{outputFormatText, outputFormatJSON}, format) {
		return fmt.Errorf("invalid output format: %s (must be one of: text, json)", format)
	}

	resultFile := cfg.Output.File
	if cmd.Flags().Changed("result-file") {
		resultFile, _ = cmd.Flags().GetString("result-file")
	}

	capture, err := readCaptureFile(cmd, path)
	if err != nil {
		return err
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}

	progress := pipeline.MultiProgressCallback{pipeline.NewLogProgressCallback(a.logger, slog.LevelDebug)}
	if show, _ := cmd.Flags().GetBool("progress"); show {
		progress = append(progress, pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), ""))
	}

	ctrl, err := a.newController(client, progress)
	if err != nil {
		return err
	}
	defer func() { _ = ctrl.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	noUpload, _ := cmd.Flags().GetBool("no-upload")

	var (
		res     processResult
		preview []byte
		runErr  error
	)
	start := time.Now()
	if noUpload {
		res, preview, runErr = processOnly(ctx, ctrl, capture)
	} else {
		res, runErr = uploadAndWait(ctx, ctrl, capture)
		preview, _ = ctrl.Preview()
	}
	res.DurationMs = time.Since(start).Milliseconds()

	if out, _ := cmd.Flags().GetString("output"); out != "" && len(preview) > 0 {
		if err := os.WriteFile(out, preview, 0o644); err != nil {
			return fmt.Errorf("failed to write processed image: %w", err)
		}
		a.logger.Info("processed image written", "file", out, "bytes", len(preview))
	}

	if err := writeProcessResult(cmd.OutOrStdout(), resultFile, format, res); err != nil {
		return err
	}

	if runErr != nil {
		if res.Reason == "" {
			return runErr
		}
		return fmt.Errorf("%s: %w", res.Reason, runErr)
	}
	return nil
}

// readCaptureFile reads the image and applies the --filter and
// --orientation overrides.
func readCaptureFile(cmd *cobra.Command, path string) (pipeline.CapturedImage, error) {
	capture := pipeline.CapturedImage{Source: path}

	if name, _ := cmd.Flags().GetString("filter"); name != "" {
		f, err := transform.ParseFilter(name)
		if err != nil {
			return capture, err
		}
		capture.Filter = f
	}
	if o, _ := cmd.Flags().GetString("orientation"); o != "" {
		tag, err := orientation.ParseTag(o)
		if err != nil {
			return capture, err
		}
		capture.Orientation = tag
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return capture, fmt.Errorf("failed to read image: %w", err)
	}
	capture.Data = data
	return capture, nil
}

func processOnly(ctx context.Context, ctrl *pipeline.Controller, capture pipeline.CapturedImage) (processResult, []byte, error) {
	res := processResult{Source: capture.Source}

	p, err := ctrl.Process(ctx, capture)
	if err != nil {
		res.State = string(pipeline.StateFailed)
		res.Kind = failure.KindOf(err)
		res.Reason = failure.Reason(err)
		return res, nil, err
	}

	res.State = stateProcessed
	res.Filter = p.Image.Filter.String()
	res.Width = p.Payload.Width
	res.Height = p.Payload.Height
	res.PayloadBytes = p.Payload.ByteLength()
	return res, p.Preview, nil
}

// uploadAndWait submits capture and waits for the run. An interrupt closes
// the controller, which aborts the upload.
func uploadAndWait(ctx context.Context, ctrl *pipeline.Controller, capture pipeline.CapturedImage) (processResult, error) {
	run, err := ctrl.Submit(ctx, capture)
	if err != nil {
		return processResult{Source: capture.Source, State: string(pipeline.StateFailed), Reason: err.Error()}, err
	}

	final, err := run.Wait(ctx)
	if ctx.Err() != nil && final.State == "" {
		_ = ctrl.Close()
		final, err = run.Wait(context.Background())
	}

	res := processResult{
		RunID:        run.ID(),
		Source:       capture.Source,
		State:        string(final.State),
		Filter:       final.Filter,
		Width:        final.Width,
		Height:       final.Height,
		PayloadBytes: final.PayloadBytes,
		Kind:         final.Kind,
		Reason:       final.Reason,
	}
	if final.Result != nil {
		res.Text = final.Result.Text
	}
	return res, err
}

func writeProcessResult(stdout io.Writer, resultFile, format string, res processResult) (err error) {
	if resultFile == "" {
		return renderProcessResult(stdout, format, res)
	}

	f, err := os.Create(resultFile)
	if err != nil {
		return fmt.Errorf("failed to create result file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close result file: %w", cerr)
		}
	}()
	return renderProcessResult(f, format, res)
}

func renderProcessResult(w io.Writer, format string, res processResult) error {
	if format == outputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	var b strings.Builder
	switch res.State {
	case string(pipeline.StateCompleted):
		b.WriteString(res.Text)
		b.WriteString("\n")
	case stateProcessed:
		fmt.Fprintf(&b, "%s: %dx%d, %d payload bytes, filter %s\n",
			res.Source, res.Width, res.Height, res.PayloadBytes, res.Filter)
	default:
		return nil
	}
	_, err := io.WriteString(w, b.String())
	return err
}
