// Command audiolat measures the round-trip latency of an audio device.
//
// It plays an END marker on the output stream while recording the input,
// splices a BEGIN marker into the recording each time a round starts, and
// writes the raw capture plus a YAML run report. Rounds start on a timer or
// when a MIDI key is released.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gen2brain/audiolat"
	"github.com/gen2brain/audiolat/midi"
	"github.com/gen2brain/audiolat/sim"
)

type options struct {
	configPath  string
	api         string
	signalPath  string
	beginPath   string
	output      string
	reportPath  string
	metricsAddr string

	logLevel  string
	logFormat string
	logFile   string

	rate       int
	timeout    float64
	interval   float64
	recBuffer  int
	playBuffer int
	usage      int
	preset     int
	playDevice string
	recDevice  string
	sinkMode   string

	midiDevice string
	midiFormat string
}

func main() {
	os.Exit(run())
}

func run() int {
	var o options

	flag.StringVar(&o.configPath, "config", "", "YAML configuration file")
	flag.StringVar(&o.api, "api", defaultAPI, "Audio backend ('alsa' or 'sim')")
	flag.StringVar(&o.signalPath, "signal", "", "END marker played every round (.wav, .mp3 or .raw)")
	flag.StringVar(&o.beginPath, "begin", "", "BEGIN marker spliced into the capture (default: the END marker)")
	flag.StringVar(&o.output, "o", "", "Capture file (default: audiolat_<signal>.raw)")
	flag.StringVar(&o.reportPath, "report", "", "Run report (default: the capture file with a .yaml extension)")
	flag.StringVar(&o.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. ':9464'")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level ('debug', 'info', 'warn' or 'error')")
	flag.StringVar(&o.logFormat, "log-format", "text", "Log format ('text' or 'json')")
	flag.StringVar(&o.logFile, "log-file", "", "Also write logs to this file, rotated")
	flag.IntVar(&o.rate, "sr", 0, "Sample rate in Hz")
	flag.Float64Var(&o.timeout, "t", 0, "Run length in seconds of captured audio")
	flag.Float64Var(&o.interval, "tbs", 0, "Seconds between rounds, 0 or less disables the timer")
	flag.IntVar(&o.recBuffer, "rbs", 0, "Record buffer size in frames, -1 for one burst")
	flag.IntVar(&o.playBuffer, "pbs", 0, "Playout buffer size in frames, -1 for one burst")
	flag.IntVar(&o.usage, "usage", 0, "Playout usage hint")
	flag.IntVar(&o.preset, "preset", 0, "Record input preset hint")
	flag.StringVar(&o.playDevice, "playout-device", "", "Playout device, e.g. 'hw:0,0'")
	flag.StringVar(&o.recDevice, "record-device", "", "Record device, e.g. 'hw:0,0'")
	flag.StringVar(&o.sinkMode, "sink", "", "Capture writer ('file' or 'async')")
	flag.StringVar(&o.midiDevice, "midi", "", "MIDI device node; key releases start rounds and the timer is disabled")
	flag.StringVar(&o.midiFormat, "midi-format", "raw", "MIDI input format ('raw' or 'usb')")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] -signal <end-marker>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Measures audio round-trip latency.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	logger, closeLog, err := newLogger(o.logLevel, o.logFormat, o.logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiolat: %v\n", err)

		return 1
	}
	defer closeLog()
	slog.SetDefault(logger)

	cfg, err := loadConfig(&o)
	if err != nil {
		slog.Error("invalid configuration", "error", err)

		return 1
	}

	begin, end, err := loadSignals(&o, cfg.SampleRate)
	if err != nil {
		slog.Error("load signals", "error", err)

		return audiolat.ExitCode(err)
	}

	platform, err := newPlatform(o.api, cfg, logger)
	if err != nil {
		slog.Error("audio backend", "api", o.api, "error", err)

		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl := audiolat.NewController(platform, *cfg, begin, end, audiolat.WithLogger(logger))

	auxCtx, cancelAux := context.WithCancel(ctx)
	defer cancelAux()
	g, gctx := errgroup.WithContext(auxCtx)

	if o.metricsAddr != "" {
		shutdown, err := serveMetrics(gctx, g, o.metricsAddr, ctrl)
		if err != nil {
			slog.Error("metrics", "error", err)

			return 1
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("metrics shutdown", "error", err)
			}
		}()
	}

	if cfg.Trigger.MIDIDevice != "" {
		if err := listenMIDI(gctx, g, cfg, ctrl, logger); err != nil {
			slog.Error("midi", "error", err)

			return 1
		}
	}

	slog.Info("audiolat starting",
		"api", o.api,
		"sample_rate", cfg.SampleRate,
		"timeout", cfg.Timeout,
		"round_interval", cfg.SessionConfig().RoundInterval,
		"output", cfg.Output,
		"begin_frames", begin.Len(),
		"end_frames", end.Len(),
	)

	res, runErr := ctrl.Run(ctx)

	cancelAux()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("background task", "error", err)
	}

	if res == nil {
		return audiolat.ExitCode(runErr)
	}

	reportPath := o.reportPath
	if reportPath == "" {
		reportPath = strings.TrimSuffix(cfg.Output, filepath.Ext(cfg.Output)) + ".yaml"
	}

	if err := audiolat.SaveReport(reportPath, res); err != nil {
		slog.Error("save report", "path", reportPath, "error", err)
		if runErr == nil {
			return 1
		}
	} else {
		slog.Info("report saved", "path", reportPath)
	}

	return res.Status
}

// loadConfig layers DefaultConfig, the optional YAML file and the flags that
// were set on the command line.
func loadConfig(o *options) (*audiolat.Config, error) {
	cfg := audiolat.DefaultConfig()
	if o.configPath != "" {
		c, err := audiolat.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = *c
	}

	var errs []error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "sr":
			cfg.SampleRate = o.rate
		case "t":
			cfg.Timeout = seconds(o.timeout)
		case "tbs":
			cfg.RoundInterval = seconds(o.interval)
		case "rbs":
			cfg.Record.BufferSize = o.recBuffer
		case "pbs":
			cfg.Playout.BufferSize = o.playBuffer
		case "usage":
			cfg.Usage = o.usage
		case "preset":
			cfg.InputPreset = o.preset
		case "playout-device":
			cfg.Playout.Device = o.playDevice
		case "record-device":
			cfg.Record.Device = o.recDevice
		case "sink":
			cfg.Sink.Mode = audiolat.SinkMode(o.sinkMode)
		case "o":
			cfg.Output = o.output
		case "midi":
			cfg.Trigger.MIDIDevice = o.midiDevice
		case "midi-format":
			mf, err := midi.ParseFormat(o.midiFormat)
			if err != nil {
				errs = append(errs, err)
			}
			cfg.Trigger.USB = mf == midi.FormatUSB
		}
	})

	if cfg.Output == "" {
		cfg.Output = audiolat.DefaultOutput(o.signalPath)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := audiolat.Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// loadSignals reads the markers. A missing BEGIN marker reuses END.
func loadSignals(o *options, rate int) (begin, end audiolat.Signal, err error) {
	unavailable := func(op string, err error) error {
		return &audiolat.Error{Kind: audiolat.BufferUnavailable, Op: op, Err: err}
	}

	if o.signalPath == "" {
		return begin, end, unavailable("load end signal", errors.New("no -signal given"))
	}

	end, err = audiolat.LoadSignal(o.signalPath, rate)
	if err != nil {
		return begin, end, unavailable("load end signal", err)
	}

	if o.beginPath == "" {
		return end, end, nil
	}

	begin, err = audiolat.LoadSignal(o.beginPath, rate)
	if err != nil {
		return begin, end, unavailable("load begin signal", err)
	}

	return begin, end, nil
}

// simPlatform is a realtime simulator with a 20 ms acoustic path.
func simPlatform(cfg *audiolat.Config) *sim.Platform {
	return &sim.Platform{
		Burst:         cfg.Playout.Burst,
		Realtime:      true,
		Loopback:      true,
		LoopbackDelay: cfg.SampleRate / 50,
	}
}

func listenMIDI(ctx context.Context, g *errgroup.Group, cfg *audiolat.Config, ctrl *audiolat.Controller, log *slog.Logger) error {
	f, err := midi.Open(cfg.Trigger.MIDIDevice)
	if err != nil {
		return err
	}

	l := &midi.Listener{
		Format:  midi.FormatRaw,
		Trigger: ctrl.Trigger,
		Logger:  log.With("midi", cfg.Trigger.MIDIDevice),
	}
	if cfg.Trigger.USB {
		l.Format = midi.FormatUSB
	}

	log.Info("midi trigger enabled", "device", cfg.Trigger.MIDIDevice, "format", l.Format.String())

	g.Go(func() error {
		defer f.Close()

		return l.Run(ctx, f)
	})

	return nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, src audiolat.StatsSource) (func(context.Context) error, error) {
	handler, shutdownProvider, err := newMetrics(src)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return srv.Shutdown(sctx)
	})

	return shutdownProvider, nil
}

func newLogger(level, format, file string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closeFn = func() { _ = lj.Close() }
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	default:
		closeFn()

		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}
