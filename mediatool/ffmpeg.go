package mediatool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/dastron/video-ware-sub000/core"
)

// FFmpegTool implements Tool by shelling out to ffprobe and ffmpeg.
type FFmpegTool struct {
	// FFprobePath and FFmpegPath default to the binaries on PATH
	FFprobePath string
	FFmpegPath  string
	Logger      core.Logger
}

// NewFFmpegTool creates a Tool using the ffmpeg binaries on PATH.
func NewFFmpegTool(logger core.Logger) *FFmpegTool {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &FFmpegTool{
		FFprobePath: "ffprobe",
		FFmpegPath:  "ffmpeg",
		Logger:      logger,
	}
}

// ffprobeOutput mirrors the subset of `ffprobe -print_format json` we read.
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
		FormatName string `json:"format_name"`
		Size       string `json:"size"`
	} `json:"format"`
}

// Probe inspects path with ffprobe. Missing files and files without a video
// stream are terminal; tool failures stay retryable.
func (t *FFmpegTool) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: media file %s", core.ErrNotFound, path)
	}

	cmd := exec.CommandContext(ctx, t.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{
		Format: out.Format.FormatName,
	}
	result.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	result.Bitrate, _ = strconv.ParseInt(out.Format.BitRate, 10, 64)
	result.Size, _ = strconv.ParseInt(out.Format.Size, 10, 64)

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if result.Codec != "" {
				continue
			}
			result.Codec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
			result.FPS = parseFrameRate(s.RFrameRate)
		case "audio":
			if result.Audio != nil {
				continue
			}
			sampleRate, _ := strconv.Atoi(s.SampleRate)
			result.Audio = &AudioDescriptor{
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: sampleRate,
			}
		}
	}

	if result.Codec == "" {
		return nil, fmt.Errorf("%w: no video stream in %s", core.ErrInvalidInput, path)
	}
	return result, nil
}

// GenerateThumbnail extracts one frame at the resolved pick time.
func (t *FFmpegTool) GenerateThumbnail(ctx context.Context, path, outPath string, cfg ThumbnailConfig, probe *ProbeResult) error {
	pick := cfg.Timestamp.Resolve(probe.Duration)
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(pick, 'f', 3, 64),
		"-i", path,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height),
		outPath,
	}
	return t.runFFmpeg(ctx, args, nil, 0)
}

// GenerateSprite renders an fps-sampled tile grid.
func (t *FFmpegTool) GenerateSprite(ctx context.Context, path, outPath string, cfg SpriteConfig, probe *ProbeResult) error {
	filter := fmt.Sprintf("fps=%s,scale=%d:%d,tile=%dx%d",
		strconv.FormatFloat(cfg.FPS, 'f', -1, 64),
		cfg.TileWidth, cfg.TileHeight,
		cfg.Cols, cfg.Rows,
	)
	args := []string{
		"-y",
		"-i", path,
		"-vf", filter,
		"-frames:v", "1",
		outPath,
	}
	return t.runFFmpeg(ctx, args, nil, 0)
}

// Transcode renders a proxy, parsing `-progress` output into percent.
func (t *FFmpegTool) Transcode(ctx context.Context, path, outPath string, cfg TranscodeConfig, probe *ProbeResult, progress ProgressFunc) error {
	width, height, err := cfg.Dimensions(probe)
	if err != nil {
		return err
	}

	codec, err := encoderFor(cfg.Codec)
	if err != nil {
		return err
	}

	args := []string{
		"-y",
		"-i", path,
		"-c:v", codec,
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
	}
	if cfg.Bitrate > 0 {
		args = append(args, "-b:v", strconv.FormatInt(cfg.Bitrate, 10))
	}
	args = append(args,
		"-progress", "pipe:2",
		"-nostats",
		outPath,
	)
	return t.runFFmpeg(ctx, args, progress, probe.Duration)
}

// runFFmpeg executes ffmpeg, optionally scanning stderr `-progress` lines
// into monotone percent callbacks.
func (t *FFmpegTool) runFFmpeg(ctx context.Context, args []string, progress ProgressFunc, duration float64) error {
	cmd := exec.CommandContext(ctx, t.FFmpegPath, args...)

	var tail bytes.Buffer
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	last := 0
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		tail.WriteString(line)
		tail.WriteByte('\n')
		if tail.Len() > 8<<10 {
			tail.Next(tail.Len() - 8<<10)
		}

		if progress == nil || duration <= 0 {
			continue
		}
		if pct, ok := parseProgressLine(line, duration); ok && pct > last {
			last = pct
			progress(pct)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %v: %s", err, strings.TrimSpace(tail.String()))
	}
	if progress != nil && last < 100 {
		progress(100)
	}
	return nil
}

// parseProgressLine reads `out_time_us=NNN` progress lines.
func parseProgressLine(line string, duration float64) (int, bool) {
	const prefix = "out_time_us="
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	us, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, prefix)), 10, 64)
	if err != nil {
		return 0, false
	}
	pct := int(float64(us) / 1e6 / duration * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct, true
}

// encoderFor maps codec names to ffmpeg encoders. Unknown codecs are
// terminal; retrying cannot make a codec exist.
func encoderFor(codec string) (string, error) {
	switch strings.ToLower(codec) {
	case "h264":
		return "libx264", nil
	case "h265", "hevc":
		return "libx265", nil
	case "vp9":
		return "libvpx-vp9", nil
	case "av1":
		return "libaom-av1", nil
	default:
		return "", fmt.Errorf("%w: unknown codec %q", core.ErrInvalidInput, codec)
	}
}

func parseFrameRate(r string) float64 {
	parts := strings.SplitN(r, "/", 2)
	if len(parts) == 2 {
		num, err1 := strconv.ParseFloat(parts[0], 64)
		den, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 == nil && err2 == nil && den != 0 {
			return num / den
		}
		return 0
	}
	f, _ := strconv.ParseFloat(r, 64)
	return f
}
