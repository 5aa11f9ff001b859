// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package supervisor implements ProcessSupervisor (spec §4.8): it pulls
// clips from a SourceIterator, spawns the decoder/encoder ffmpeg processes
// (or a single combined process in HLS mode), forwards bytes between them
// in player/stream mode, and arbitrates live-ingest takeover.
//
// Process lifetime management (new process group, SIGTERM-then-SIGKILL,
// draining the wait channel) is grounded on internal/procgroup, which the
// teacher already uses for exactly this "own a child ffmpeg/ffprobe
// process reliably" problem. Stderr capture reuses
// internal/pipeline/exec/ffmpeg.LineRing verbatim for its ring-buffer
// shape, repurposed here to feed the playout event bus instead of an HTTP
// diagnostics endpoint.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/metrics"
	"github.com/ManuGH/xg2g/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/xg2g/internal/playout/bus"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/playout/filter"
	"github.com/ManuGH/xg2g/internal/playout/media"
	"github.com/ManuGH/xg2g/internal/playout/source"
	"github.com/ManuGH/xg2g/internal/playout/telemetry"
	"github.com/ManuGH/xg2g/internal/procgroup"
)

var tracer = telemetry.Tracer("playout.supervisor")

// forwardBufSize is the decoder->encoder pipe chunk size in player/stream
// mode, matching the original engine's fixed transfer buffer.
const forwardBufSize = 65088

// killGrace is how long procgroup.KillGroup waits after SIGTERM before
// escalating to SIGKILL.
const killGrace = 5 * time.Second

// ringLines is how many trailing stderr lines are kept per process, per
// spec §4.8.4 "last N lines available for diagnostics".
const ringLines = 90

// ProcessSupervisor owns the decoder/encoder child processes for one
// channel (spec §4.8). One instance is created per channel by
// channel.Manager and run until its context is canceled.
type ProcessSupervisor struct {
	cfg      *config.PlayoutConfig
	iterator source.Iterator
	bus      bus.Bus
	bin      string // ffmpeg binary path, defaults to "ffmpeg"
	text     dyntextSource

	mu      sync.Mutex
	ingest  *ingestState
	current *exec.Cmd
}

// dyntextSource is the subset of textoverlay.Controller's surface the
// supervisor needs; kept as an interface so tests can fake it.
type dyntextSource interface {
	CurrentFilter() string
}

// Option configures a ProcessSupervisor at construction time.
type Option func(*ProcessSupervisor)

// WithBus attaches an event bus that receives classified stderr lines.
func WithBus(b bus.Bus) Option {
	return func(s *ProcessSupervisor) { s.bus = b }
}

// WithBinary overrides the ffmpeg binary path (default "ffmpeg").
func WithBinary(path string) Option {
	return func(s *ProcessSupervisor) { s.bin = path }
}

// WithTextOverlay wires a textoverlay.Controller so live "reinit" updates
// are picked up on the next clip's filter graph (spec §4.10).
func WithTextOverlay(t dyntextSource) Option {
	return func(s *ProcessSupervisor) { s.text = t }
}

// New returns a ProcessSupervisor for cfg, pulling clips from it.
func New(cfg *config.PlayoutConfig, it source.Iterator, opts ...Option) *ProcessSupervisor {
	s := &ProcessSupervisor{cfg: cfg, iterator: it, bin: "ffmpeg"}
	if cfg.Ingest.Enable {
		s.ingest = newIngestState(cfg)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run dispatches to the HLS per-clip loop or the player/stream
// byte-forwarding loop per cfg.Output.Mode, and blocks until ctx is
// canceled or a terminal error occurs.
func (s *ProcessSupervisor) Run(ctx context.Context) error {
	logger := log.WithComponent("playout.supervisor").With().Str("channel", s.cfg.General.ChannelID).Logger()
	logger.Info().Str("mode", string(s.cfg.Output.Mode)).Msg("process supervisor starting")

	if s.ingest != nil {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.ingest.listen(gctx, s.bin) })
		g.Go(func() error { return s.runLoop(gctx) })
		return g.Wait()
	}
	return s.runLoop(ctx)
}

func (s *ProcessSupervisor) runLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.playOneClip(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			log.WithComponent("playout.supervisor").Error().Err(err).
				Str("channel", s.cfg.General.ChannelID).Msg("clip playback failed, continuing with next clip")
		}
	}
}

// playOneClip pulls the next clip and spawns ffmpeg for it, per the
// channel's output mode.
func (s *ProcessSupervisor) playOneClip(ctx context.Context) error {
	m, err := s.iterator.Next(ctx)
	if err != nil {
		return fmt.Errorf("source iterator: %w", err)
	}
	if m == nil || m.Skip {
		return nil
	}

	if s.ingest != nil && s.ingest.takingOver() {
		return s.runIngestClip(ctx)
	}

	ctx, span := tracer.Start(ctx, "playout.clip",
		trace.WithAttributes(
			attribute.String("playout.channel_id", s.cfg.General.ChannelID),
			attribute.String("playout.source", m.Source),
			attribute.Float64("playout.duration_seconds", m.PlayDuration()),
		),
	)
	defer span.End()

	metrics.PlayoutClipSpawnsTotal.WithLabelValues(s.cfg.General.ChannelID).Inc()
	go s.runTask(m)

	var runErr error
	switch s.cfg.Output.Mode {
	case config.OutputHLS:
		runErr = s.runHLSClip(ctx, m)
	default:
		runErr = s.runStreamClip(ctx, m)
	}
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		span.RecordError(runErr)
	}
	return runErr
}

// runHLSClip spawns one ffmpeg process per clip that decodes, filters, and
// muxes directly to HLS segments (spec §4.8.2 "HLS mode: per-clip muxer").
func (s *ProcessSupervisor) runHLSClip(ctx context.Context, m *media.Media) error {
	f, err := filter.Build(s.cfg, m, filter.RoleEncoder, s.dyntextFilter())
	if err != nil {
		return fmt.Errorf("build filter for %s: %w", m.Source, err)
	}

	args := s.decoderInputArgs(m)
	args = append(args, f.Cmd()...)
	args = append(args, f.Map()...)
	args = append(args, s.outputArgs()...)

	return s.runAndWait(ctx, args, "hls")
}

// runStreamClip spawns a decoder (filtered to the encoder's target format)
// piping raw frames into the already-running encoder's stdin in
// player/stream mode (spec §4.8.1).
func (s *ProcessSupervisor) runStreamClip(ctx context.Context, m *media.Media) error {
	f, err := filter.Build(s.cfg, m, filter.RoleDecoder, s.dyntextFilter())
	if err != nil {
		return fmt.Errorf("build filter for %s: %w", m.Source, err)
	}

	decodeArgs := s.decoderInputArgs(m)
	decodeArgs = append(decodeArgs, f.Cmd()...)
	decodeArgs = append(decodeArgs, f.Map()...)
	decodeArgs = append(decodeArgs, "-f", "matroska", "pipe:1")

	encodeArgs := s.outputArgs()

	return s.runPipedPair(ctx, decodeArgs, encodeArgs)
}

// runPipedPair runs decoder and encoder concurrently, forwarding the
// decoder's stdout into the encoder's stdin in forwardBufSize chunks.
func (s *ProcessSupervisor) runPipedPair(ctx context.Context, decodeArgs, encodeArgs []string) error {
	decoder := s.newCmd(ctx, decodeArgs)
	encoder := s.newCmd(ctx, encodeArgs)

	stdout, err := decoder.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder stdout pipe: %w", err)
	}
	stdin, err := encoder.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder stdin pipe: %w", err)
	}

	decoderRing := ffmpeg.NewLineRing(ringLines)
	encoderRing := ffmpeg.NewLineRing(ringLines)
	s.attachStderr(ctx, decoder, decoderRing, "decoder")
	s.attachStderr(ctx, encoder, encoderRing, "encoder")

	procgroup.Set(decoder)
	procgroup.Set(encoder)

	if err := encoder.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	if err := decoder.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start decoder: %w", err)
	}

	s.setCurrent(decoder)
	defer s.setCurrent(nil)

	forwardErr := make(chan error, 1)
	go func() {
		buf := make([]byte, forwardBufSize)
		_, err := io.CopyBuffer(stdin, stdout, buf)
		_ = stdin.Close()
		forwardErr <- err
	}()

	decodeWait := make(chan error, 1)
	go func() { decodeWait <- decoder.Wait() }()

	select {
	case <-ctx.Done():
		_ = procgroup.KillGroup(decoder.Process.Pid, killGrace, killGrace*2)
		<-decodeWait
		<-forwardErr
		return ctx.Err()
	case err := <-decodeWait:
		<-forwardErr
		if err != nil {
			return fmt.Errorf("decoder exited: %w", err)
		}
	}

	// Encoder stays alive across clips in stream mode; it is only reaped
	// when the supervisor itself shuts down.
	go func() {
		if err := encoder.Wait(); err != nil && ctx.Err() == nil {
			log.WithComponent("playout.supervisor").Error().Err(err).Msg("encoder exited unexpectedly")
		}
	}()

	return nil
}

func (s *ProcessSupervisor) runAndWait(ctx context.Context, args []string, label string) error {
	cmd := s.newCmd(ctx, args)
	ring := ffmpeg.NewLineRing(ringLines)
	s.attachStderr(ctx, cmd, ring, label)
	procgroup.Set(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", label, err)
	}
	s.setCurrent(cmd)
	defer s.setCurrent(nil)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = procgroup.KillGroup(cmd.Process.Pid, killGrace, killGrace*2)
		<-waitCh
		return ctx.Err()
	case err := <-waitCh:
		if err != nil {
			return fmt.Errorf("%s exited: %w", label, err)
		}
		return nil
	}
}

func (s *ProcessSupervisor) dyntextFilter() string {
	if s.text == nil {
		return ""
	}
	return s.text.CurrentFilter()
}

func (s *ProcessSupervisor) newCmd(ctx context.Context, args []string) *exec.Cmd {
	return exec.CommandContext(ctx, s.bin, args...)
}

func (s *ProcessSupervisor) setCurrent(cmd *exec.Cmd) {
	s.mu.Lock()
	s.current = cmd
	s.mu.Unlock()
}

// decoderInputArgs builds (and caches on m.Cmd) the input-side ffmpeg
// arguments for one clip: an optional advanced.decoder input_param
// override, the seek, "-i <source>", then the duration.
func (s *ProcessSupervisor) decoderInputArgs(m *media.Media) []string {
	if len(m.Cmd) > 0 {
		return append([]string(nil), m.Cmd...)
	}
	var args []string
	if tmpl, ok := s.cfg.Advanced.Decoder["input_param"]; ok && tmpl != "" {
		args = append(args, strings.Fields(tmpl)...)
	}
	if m.Seek > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", m.Seek))
	}
	args = append(args, "-i", m.Source)
	if m.Out > m.Seek {
		args = append(args, "-t", fmt.Sprintf("%.3f", m.Out-m.Seek))
	}
	m.Cmd = append([]string(nil), args...)
	return args
}

// outputArgs builds the encoder's output-side ffmpeg arguments from
// cfg.Output, honoring an advanced.encoder output_param override.
func (s *ProcessSupervisor) outputArgs() []string {
	if tmpl, ok := s.cfg.Advanced.Encoder["output_param"]; ok && tmpl != "" {
		return strings.Fields(tmpl)
	}
	args := append([]string(nil), s.cfg.Output.OutputParam...)
	if s.cfg.Output.Mode == config.OutputHLS && s.cfg.Output.HLSPath != "" {
		args = append(args, s.cfg.Output.HLSPath)
	}
	return args
}

// attachStderr scans a child's stderr line-by-line into a ring buffer and
// classifies/publishes each line to the bus (spec §4.8.4).
func (s *ProcessSupervisor) attachStderr(ctx context.Context, cmd *exec.Cmd, ring *ffmpeg.LineRing, role string) {
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return
	}
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			_, _ = ring.Write([]byte(line + "\n"))
			if s.bus == nil {
				continue
			}
			msg := bus.Message{
				ChannelID: s.cfg.General.ChannelID,
				Level:     classifyLine(line),
				Line:      line,
				Time:      time.Now(),
			}
			pubCtx, cancel := context.WithTimeout(ctx, time.Second)
			_ = s.bus.Publish(pubCtx, s.cfg.General.ChannelID, msg)
			cancel()
		}
	}()
}

// classifyLine maps an ffmpeg stderr line to a bus.Level using the same
// substring vocabulary the muxer itself emits (spec §4.8.4).
func classifyLine(line string) bus.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "panic") || strings.Contains(lower, "fatal"):
		return bus.LevelFatal
	case strings.Contains(lower, "error") || strings.Contains(lower, "invalid") || strings.Contains(lower, "failed"):
		return bus.LevelError
	case strings.Contains(lower, "warning") || strings.Contains(lower, "deprecated"):
		return bus.LevelWarning
	default:
		return bus.LevelInfo
	}
}
