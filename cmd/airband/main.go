// airband consumes a wideband IQ stream and demodulates many independent
// narrowband AM/NFM channels in parallel, delivering each to its
// configured sinks.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/boondock-echo/airband/internal/config"
	"github.com/boondock-echo/airband/internal/pipeline"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var configPath = pflag.StringP("config", "c", "airband.yaml", "Path to the pipeline configuration file.")
	var foreground = pflag.BoolP("foreground", "f", false, "Add timestamps to log lines (logs always go to stderr).")
	var diag = pflag.BoolP("diag", "Q", false, "Validate the configuration, print the resolved pipeline graph, and exit.")
	var logLevel = pflag.StringP("log-level", "l", "", "Log level: debug, info, warn, error. Overrides the config file.")
	var showVersion = pflag.BoolP("version", "v", false, "Print version and exit.")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("airband %s\n", version)
		return 0
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: *foreground,
		Prefix:          "airband",
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration invalid", "err", err)
		return 1
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	if level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			logger.Error("bad log level", "level", level)
			return 1
		}
		logger.SetLevel(parsed)
	}

	if *diag {
		printGraph(cfg)
		return 0
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		pl, err := pipeline.Start(cfg, logger)
		if err != nil {
			logger.Error("pipeline start failed", "err", err)
			return 1
		}
		logger.Info("pipeline running", "devices", len(cfg.Devices), "fft_size", cfg.FFTSize)

		reload := false
	waitLoop:
		for {
			select {
			case sig := <-sigs:
				if sig == syscall.SIGHUP {
					// Reload is a full restart on a fresh config.
					logger.Info("reload requested")
					pl.ReloadSignal()
					reload = true
				}
				break waitLoop
			case <-pl.Done():
				break waitLoop
			}
		}

		pl.Stop()
		if !reload && !pl.ReloadRequested() {
			logger.Info("pipeline stopped")
			return 0
		}

		cfg, err = config.Load(*configPath)
		if err != nil {
			logger.Error("reload failed, configuration invalid", "err", err)
			return 1
		}
	}
}

// printGraph writes the resolved pipeline layout for the diagnostic mode.
func printGraph(cfg *config.Config) {
	fmt.Printf("fft_size: %d\n", cfg.FFTSize)
	for _, d := range cfg.Devices {
		fmt.Printf("device %s: input=%s rate=%d center=%d\n", d.Name, d.Input.Type, d.Input.SampleRate, d.CenterFreq)
		for i, ch := range d.Channels {
			if len(ch.Freqs) > 0 {
				fmt.Printf("  channel %d: scan list (%d entries)\n", i, len(ch.Freqs))
				for _, e := range ch.Freqs {
					fmt.Printf("    %d %s\n", e.Freq, e.Label)
				}
			} else {
				fmt.Printf("  channel %d: %d %s %s\n", i, ch.Freq, ch.Modulation, ch.Label)
			}
			for _, o := range ch.Outputs {
				fmt.Printf("    -> %s\n", o.Type)
			}
		}
	}
	for _, m := range cfg.Mixers {
		fmt.Printf("mixer %s: highpass=%g lowpass=%g\n", m.Name, m.Highpass, m.Lowpass)
		for _, o := range m.Outputs {
			fmt.Printf("    -> %s\n", o.Type)
		}
	}
}
