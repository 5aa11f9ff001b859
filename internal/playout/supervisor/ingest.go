// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/xg2g/internal/log"
	"github.com/ManuGH/xg2g/internal/metrics"
	"github.com/ManuGH/xg2g/internal/pipeline/exec/ffmpeg"
	"github.com/ManuGH/xg2g/internal/playout/config"
	"github.com/ManuGH/xg2g/internal/procgroup"
)

// Stderr substrings the RTMP ingest path keys takeover decisions on (spec
// §12.4 supplemented feature: "ingest stderr marker set").
const (
	markerInputOpened   = "Input #0"
	markerAppMismatch   = "App field don't match up"
	markerUnexpectedApp = "Unexpected stream"
	markerConnReset     = "Broken pipe"

	probeDialTimeout = 500 * time.Millisecond
	probeRateLimit   = 1 // port-contention probes per second
	probeBurst       = 2
)

// ingestState owns the long-lived ingest listener process and the
// atomic takeover flag ProcessSupervisor's playback loop polls at every
// clip boundary (spec §4.8.3).
type ingestState struct {
	cfg     *config.PlayoutConfig
	active  atomic.Bool
	limiter *rate.Limiter
}

func newIngestState(cfg *config.PlayoutConfig) *ingestState {
	return &ingestState{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(probeRateLimit), probeBurst),
	}
}

func (i *ingestState) takingOver() bool { return i.active.Load() }

// listen keeps one ingest ffmpeg listener alive for the channel's
// lifetime, restarting it on exit, rate-limited so a crash loop can't spin
// a fork bomb. Before each (re)start it probes the listen address for
// contention (spec: "ingest listen-port contention probing") since ffmpeg
// itself gives an unhelpful bind error on a port another process holds.
func (i *ingestState) listen(ctx context.Context, bin string) error {
	logger := log.WithComponent("playout.ingest").With().Str("channel", i.cfg.General.ChannelID).Logger()
	addr := listenAddr(i.cfg.Ingest.ListenURL)
	if addr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		if err := i.limiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
		if portBusy(addr) {
			logger.Warn().Str("addr", addr).Msg("ingest listen address already bound, retrying")
			continue
		}
		if err := i.runListenerOnce(ctx, bin, &logger); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error().Err(err).Msg("ingest listener exited, restarting")
		}
	}
}

// runListenerOnce spawns one ingest ffmpeg process and classifies its
// stderr to flip the takeover flag as soon as a valid stream connects.
func (i *ingestState) runListenerOnce(ctx context.Context, bin string, logger *zerolog.Logger) error {
	args := []string{}
	if i.cfg.Ingest.InputParam != "" {
		args = append(args, strings.Fields(i.cfg.Ingest.InputParam)...)
	}
	args = append(args, "-i", i.cfg.Ingest.ListenURL, "-f", "null", "-")

	cmd := exec.CommandContext(ctx, bin, args...)
	procgroup.Set(cmd)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	ring := ffmpeg.NewLineRing(ringLines)

	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 4096), 1<<20)
		for scanner.Scan() {
			line := scanner.Text()
			_, _ = ring.Write([]byte(line + "\n"))
			takeover, reject, reason := classifyIngestMarker(line, i.cfg.Ingest.ValidStream)
			if reason != "" {
				logger.Info().Str("reason", reason).Bool("takeover", takeover).Bool("reject", reject).Msg("ingest marker observed")
			}
			if takeover {
				i.active.Store(true)
			}
			if reject {
				logger.Warn().Str("line", line).Msg("rejecting unexpected ingest stream, killing listener")
				if cmd.Process != nil {
					_ = procgroup.KillGroup(cmd.Process.Pid, killGrace, killGrace*2)
				}
				return
			}
		}
	}()

	waitErr := cmd.Wait()
	i.active.Store(false)
	return waitErr
}

func listenAddr(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u := strings.TrimPrefix(rawURL, "rtmp://")
	u = strings.TrimPrefix(u, "tcp://")
	if i := strings.Index(u, "/"); i >= 0 {
		u = u[:i]
	}
	if !strings.Contains(u, ":") {
		u += ":1935"
	}
	return u
}

func portBusy(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, probeDialTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// classifyIngestMarker maps one ingest-listener stderr line to a
// takeover/reject decision (spec §4.8.2, §12.4): "Input #0" announces a
// stream has actually started flowing; an app-name mismatch or an
// "Unexpected stream" marker is a rejected connection attempt that must
// NOT trigger a takeover and, unless the connecting app is whitelisted via
// valid_stream, must kill the ingest listener so it can accept a fresh
// connection instead of staying wedged against the rejected one.
func classifyIngestMarker(line string, validApps []string) (takeover, reject bool, reason string) {
	switch {
	case strings.Contains(line, markerAppMismatch), strings.Contains(line, markerUnexpectedApp):
		if len(validApps) > 0 && anyContains(line, validApps) {
			return false, false, "rtmp app in valid_stream whitelist, ignoring marker"
		}
		return false, true, "rejected unexpected ingest stream"
	case strings.Contains(line, markerInputOpened):
		if len(validApps) > 0 && !anyContains(line, validApps) {
			return false, false, "rtmp app not in valid_stream whitelist"
		}
		return true, false, "ingest stream detected"
	case strings.Contains(line, markerConnReset):
		return false, false, "ingest connection reset"
	default:
		return false, false, ""
	}
}

func anyContains(line string, candidates []string) bool {
	for _, c := range candidates {
		if c != "" && strings.Contains(line, c) {
			return true
		}
	}
	return false
}

// runIngestClip takes over the encoder for the duration of the active
// ingest stream (spec §4.8.3): it runs a fresh ffmpeg decode of the same
// listen URL and pipes it into the encoder like a scheduled clip, returning
// once the stream disconnects. The ingest decode has no filter graph: no
// FilterBuilder stages and no ingest custom_filter are applied to it.
func (s *ProcessSupervisor) runIngestClip(ctx context.Context) error {
	if s.ingest == nil {
		return fmt.Errorf("runIngestClip called without ingest enabled")
	}
	metrics.PlayoutIngestTakeoversTotal.WithLabelValues(s.cfg.General.ChannelID).Inc()

	decodeArgs := []string{"-i", s.cfg.Ingest.ListenURL}
	decodeArgs = append(decodeArgs, "-f", "matroska", "pipe:1")
	encodeArgs := s.outputArgs()

	err := s.runPipedPair(ctx, decodeArgs, encodeArgs)
	for s.ingest.takingOver() && ctx.Err() == nil {
		time.Sleep(200 * time.Millisecond)
		if !s.ingest.takingOver() {
			break
		}
	}
	return err
}
