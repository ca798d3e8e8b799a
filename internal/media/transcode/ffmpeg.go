package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type FFmpegConfig struct {
	FFmpegPath      string
	FFprobePath     string
	WorkDir         string
	Preset          string
	ExtractSubtitle bool
	Logger          zerolog.Logger
}

// FFmpeg transcodes to H.264/AAC MP4 with the ffmpeg CLI.
type FFmpeg struct {
	cfg    FFmpegConfig
	logger zerolog.Logger
	// run executes a command. When onLine is set stdout is streamed to it
	// line by line instead of being returned.
	run func(ctx context.Context, onLine func(string), name string, args ...string) ([]byte, error)
}

func NewFFmpeg(cfg FFmpegConfig) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Preset == "" {
		cfg.Preset = "veryfast"
	}
	return &FFmpeg{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "ffmpeg").Logger(),
		run:    runCommand,
	}
}

func runCommand(ctx context.Context, onLine func(string), name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	drained := func() {}
	if onLine == nil {
		cmd.Stdout = &stdout
	} else {
		pr, pw := io.Pipe()
		cmd.Stdout = pw
		done := make(chan struct{})
		go func() {
			defer close(done)
			sc := bufio.NewScanner(pr)
			for sc.Scan() {
				onLine(sc.Text())
			}
			_, _ = io.Copy(io.Discard, pr)
		}()
		drained = func() {
			_ = pw.Close()
			<-done
		}
	}

	err := cmd.Run()
	drained()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(name), err, msg)
	}
	return stdout.Bytes(), nil
}

// Transcode reports progress from ffmpeg's machine-readable progress stream.
// progress may be nil.
func (f *FFmpeg) Transcode(ctx context.Context, src io.Reader, progress ProgressFunc) (res *Result, err error) {
	dir, err := os.MkdirTemp(f.cfg.WorkDir, "transcode-*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.RemoveAll(dir)
		}
	}()

	input := filepath.Join(dir, "input")
	if err := spool(src, input); err != nil {
		return nil, err
	}

	duration, err := f.probeDuration(ctx, input)
	if err != nil {
		return nil, err
	}

	output := filepath.Join(dir, "output.mp4")
	tracker := newProgressTracker(duration, progress)
	if _, err := f.run(ctx, tracker.line, f.cfg.FFmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-progress", "pipe:1", "-nostats",
		"-i", input,
		"-map", "0:v:0", "-map", "0:a:0?",
		"-c:v", "libx264", "-preset", f.cfg.Preset,
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-y", output,
	); err != nil {
		return nil, fmt.Errorf("transcode video: %w", err)
	}
	video, err := artifact(Video, output, "video/mp4")
	if err != nil {
		return nil, err
	}
	if video.Size == 0 {
		return nil, errors.New("transcode video: empty output")
	}

	res = NewResult(dir, duration, video)

	if f.cfg.ExtractSubtitle && f.hasSubtitleStream(ctx, input) {
		vtt := filepath.Join(dir, "output.vtt")
		if _, serr := f.run(ctx, nil, f.cfg.FFmpegPath,
			"-hide_banner", "-loglevel", "error",
			"-i", input, "-map", "0:s:0", "-y", vtt,
		); serr != nil {
			f.logger.Warn().Err(serr).Msg("subtitle extraction failed, continuing without subtitles")
		} else if sub, aerr := artifact(Subtitles, vtt, "text/vtt"); aerr == nil && sub.Size > 0 {
			res.Artifacts = append(res.Artifacts, sub)
		}
	}
	return res, nil
}

func spool(src io.Reader, path string) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create input file: %w", err)
	}
	if _, err := io.Copy(fh, src); err != nil {
		_ = fh.Close()
		return fmt.Errorf("spool input: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close input file: %w", err)
	}
	return nil
}

func artifact(kind ArtifactKind, path, contentType string) (Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("stat %s output: %w", kind, err)
	}
	return Artifact{Kind: kind, Path: path, Size: info.Size(), ContentType: contentType}, nil
}

func (f *FFmpeg) probeDuration(ctx context.Context, input string) (float64, error) {
	out, err := f.run(ctx, nil, f.cfg.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nk=1:nw=1",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	return parseDuration(out)
}

func parseDuration(out []byte) (float64, error) {
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, fmt.Errorf("probe duration: no duration reported")
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("probe duration %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("probe duration: negative value %v", d)
	}
	return d, nil
}

func (f *FFmpeg) hasSubtitleStream(ctx context.Context, input string) bool {
	out, err := f.run(ctx, nil, f.cfg.FFprobePath,
		"-v", "error",
		"-select_streams", "s:0",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		input,
	)
	if err != nil {
		f.logger.Debug().Err(err).Msg("subtitle probe failed")
		return false
	}
	return len(bytes.TrimSpace(out)) > 0
}
