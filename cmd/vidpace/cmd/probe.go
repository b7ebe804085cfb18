package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/vidpace/internal/ffmpeg"
	"github.com/jmylchreest/vidpace/internal/source"
	"github.com/jmylchreest/vidpace/internal/stream"
	"github.com/jmylchreest/vidpace/pkg/format"
)

var probeCmd = &cobra.Command{
	Use:   "probe <asset>",
	Short: "Inspect a video file or image directory",
	Long: `Open an asset the way a stream would and print its metadata: native
size, frame rate, frame count, duration, size on disk and the frame rate a
stream would use.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().Int("width", 0, "output frame width (default from config)")
	probeCmd.Flags().Int("height", 0, "output frame height (default from config)")
	probeCmd.Flags().Bool("json", false, "output metadata as JSON")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	width, _ := cmd.Flags().GetInt("width")
	height, _ := cmd.Flags().GetInt("height")
	if width == 0 {
		width = cfg.Defaults.Width
	}
	if height == 0 {
		height = cfg.Defaults.Height
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := source.Options{
		Path:         args[0],
		Width:        width,
		Height:       height,
		FFmpegPath:   cfg.FFmpeg.BinaryPath,
		FFprobePath:  cfg.FFmpeg.ProbePath,
		ProbeTimeout: cfg.FFmpeg.ProbeTimeout,
		Logger:       logger,
	}
	if info, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx); err == nil {
		opts.FFmpegPath = info.FFmpegPath
		opts.FFprobePath = info.FFprobePath
	}

	src, meta, err := source.Open(ctx, opts)
	if err != nil {
		return fmt.Errorf("probing %s: %w", args[0], err)
	}
	defer src.Close()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(meta, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	return writeMetadata(cmd.OutOrStdout(), meta, cfg.Defaults.FrameRate)
}

func writeMetadata(w io.Writer, meta source.Metadata, configuredRate float64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "path:\t%s\n", meta.Path)
	fmt.Fprintf(tw, "kind:\t%s\n", meta.Kind)
	if meta.Codec != "" {
		fmt.Fprintf(tw, "codec:\t%s\n", meta.Codec)
	}
	fmt.Fprintf(tw, "native size:\t%dx%d\n", meta.Width, meta.Height)
	if meta.FrameRate > 0 {
		fmt.Fprintf(tw, "native frame rate:\t%.3f fps\n", meta.FrameRate)
	} else {
		fmt.Fprintf(tw, "native frame rate:\tunknown\n")
	}
	fmt.Fprintf(tw, "stream frame rate:\t%.3f fps\n", stream.ResolveFrameRate(configuredRate, meta.FrameRate))
	if meta.Frames > 0 {
		fmt.Fprintf(tw, "frames:\t%s\n", format.Number(meta.Frames))
	}
	if meta.Duration > 0 {
		fmt.Fprintf(tw, "duration:\t%s\n", format.Duration(meta.Duration))
	}
	fmt.Fprintf(tw, "size on disk:\t%s\n", format.Bytes(uint64(meta.SizeBytes)))
	fmt.Fprintf(tw, "frame size:\t%s\n", format.Bytes(uint64(meta.FrameBytes)))
	return tw.Flush()
}
