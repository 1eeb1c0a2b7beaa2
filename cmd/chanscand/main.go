// Command chanscand runs the channel-scheduling scan loop at 10 Hz
// against a Receiver (a real SDR driver, or the built-in SimulatedReceiver
// with --sim) until interrupted.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/kf0mfg/chanscan"
)

const scanInterval = 100 * time.Millisecond // 10 Hz, per spec.md §5

func main() {
	os.Exit(run())
}

func run() int {
	var (
		freqs           = flag.StringSliceP("freq", "f", nil, "frequency spec: F or LO-HI, in Hz; repeatable")
		numDemod        = flag.IntP("demod", "n", 4, "number of demodulators")
		sampleRate      = flag.Int64P("rate", "r", 2_400_000, "hardware sample rate, Hz")
		thresholdDB     = flag.Float64P("threshold", "t", 10, "detection threshold, dB of linear bin power")
		channelSpacing  = flag.Int64P("channel-spacing", "B", 5_000, "channel quantization spacing, Hz")
		lockoutFile     = flag.StringP("lockout", "l", "", "frequency configuration file (YAML)")
		logType         = flag.StringP("log_type", "T", "", "channel logger: debug, fixed-field, json-http")
		logTarget       = flag.StringP("log_target", "L", "", "logger target: file path or URL")
		logTimeout      = flag.DurationP("log_active_timeout", "A", 5*time.Second, "interval between synthetic act log entries for an active channel, 0 disables")
		quietTimeout    = flag.Duration("quiet_timeout", 10*time.Second, "dwell time before advancing with no activity")
		activeTimeout   = flag.Duration("active_timeout", 60*time.Second, "dwell time extension after interesting activity")
		minRecording    = flag.Duration("min_recording", 0, "minimum recording length")
		maxRecording    = flag.Duration("max_recording", 0, "maximum recording length, 0 disables")
		autoPriority    = flag.BoolP("auto-priority", "P", false, "automatically promote voice-heavy channels to priority")
		record          = flag.Bool("record", false, "treat demodulators as producing recordings")
		sim             = flag.Bool("sim", false, "use the built-in SimulatedReceiver instead of real hardware")
		metricsAddr     = flag.String("metrics-addr", "", "address to serve Prometheus metrics on, empty disables")
		wsAddr          = flag.String("ws-addr", "", "address to serve the UI websocket on, empty disables")
		configPath      = flag.StringP("config", "c", "", "optional YAML config file; explicit flags override its values")
	)
	_ = minRecording // accepted for CLI compatibility; governs classifier behavior, out of scope here
	flag.Parse()

	appCfg, err := chanscan.LoadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chanscand: %v\n", err)
		return 2
	}

	// Flags explicitly passed on the command line win over the config
	// file; anything left at its flag default falls back to appCfg.
	if !flag.CommandLine.Changed("demod") {
		*numDemod = appCfg.Hardware.NumDemod
	}
	if !flag.CommandLine.Changed("rate") {
		*sampleRate = appCfg.Hardware.SampleRate
	}
	if !flag.CommandLine.Changed("channel-spacing") {
		*channelSpacing = appCfg.Hardware.ChannelSpacing
	}
	if !flag.CommandLine.Changed("threshold") && appCfg.Scan.ThresholdDB != 0 {
		*thresholdDB = appCfg.Scan.ThresholdDB
	}
	if !flag.CommandLine.Changed("quiet_timeout") {
		*quietTimeout = appCfg.Scan.QuietTimeout
	}
	if !flag.CommandLine.Changed("active_timeout") {
		*activeTimeout = appCfg.Scan.ActiveTimeout
	}
	if !flag.CommandLine.Changed("max_recording") && appCfg.Scan.MaxRecording != 0 {
		*maxRecording = appCfg.Scan.MaxRecording
	}
	if !flag.CommandLine.Changed("record") {
		*record = appCfg.Scan.Record
	}
	if !flag.CommandLine.Changed("sim") {
		*sim = appCfg.Hardware.Sim
	}
	if !flag.CommandLine.Changed("auto-priority") {
		*autoPriority = appCfg.Scan.AutoPriority
	}
	if !flag.CommandLine.Changed("log_type") {
		*logType = appCfg.Logger.Type
	}
	if !flag.CommandLine.Changed("log_target") {
		*logTarget = appCfg.Logger.Target
	}
	if !flag.CommandLine.Changed("log_active_timeout") && appCfg.Logger.Timeout != 0 {
		*logTimeout = appCfg.Logger.Timeout
	}
	if !flag.CommandLine.Changed("lockout") && appCfg.Frequency.File != "" {
		*lockoutFile = appCfg.Frequency.File
	}
	if !flag.CommandLine.Changed("metrics-addr") && appCfg.Metrics.Enabled {
		*metricsAddr = appCfg.Metrics.Addr
	}
	if !flag.CommandLine.Changed("ws-addr") && appCfg.Websocket.Enabled {
		*wsAddr = appCfg.Websocket.Addr
	}

	singles, ranges, err := parseFreqFlags(*freqs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chanscand: %v\n", err)
		return 2
	}
	singles = append(singles, appCfg.Frequency.Singles...)
	ranges = append(ranges, appCfg.Frequency.Ranges...)
	if len(singles) == 0 && len(ranges) == 0 {
		fmt.Fprintln(os.Stderr, "chanscand: at least one -f/--freq or a config frequency entry is required")
		return 2
	}

	registry := chanscan.NewFrequencyRegistry(*channelSpacing)
	if *lockoutFile != "" {
		if err := registry.Load(*lockoutFile); err != nil {
			fmt.Fprintf(os.Stderr, "chanscand: %v\n", err)
			return 2
		}
	}

	loggers := chanscan.MultiLogger{chanscan.NewChannelLogger(chanscan.ChannelLoggerConfig{
		Type:   *logType,
		Target: *logTarget,
	})}
	if appCfg.MQTT.Enabled {
		mqttLogger, err := chanscan.NewMQTTLogger(
			appCfg.MQTT.Broker, appCfg.MQTT.ClientID, appCfg.MQTT.Username, appCfg.MQTT.Password,
			appCfg.MQTT.Topic, appCfg.MQTT.QoS, appCfg.MQTT.Retain,
			chanscan.MQTTLoggerConfigTLS{
				Enabled:            appCfg.MQTT.TLS.Enabled,
				CACert:             appCfg.MQTT.TLS.CAFile,
				InsecureSkipVerify: appCfg.MQTT.TLS.InsecureSkipVerify,
			},
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chanscand: mqtt logger: %v\n", err)
			return 2
		}
		defer mqttLogger.Disconnect()
		loggers = append(loggers, mqttLogger)
	}
	var logger chanscan.ChannelLogger = loggers

	clock := chanscan.NewRealClock()

	metricsPath := appCfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	var metrics *chanscan.Metrics
	if *metricsAddr != "" {
		metrics = chanscan.NewMetrics()
		go serveMetrics(*metricsAddr, metricsPath)
	}

	centerHz := int64(0)
	if len(singles) > 0 {
		centerHz = singles[0].Freq
	} else if len(ranges) > 0 {
		centerHz = ranges[0].Lo
	}

	var scheduler *chanscan.Scheduler
	provider := chanscan.NewCenterFrequencyProvider(chanscan.CenterFrequencyProviderConfig{
		Singles:       singles,
		Ranges:        ranges,
		SampleRate:    *sampleRate,
		QuietTimeout:  *quietTimeout,
		ActiveTimeout: *activeTimeout,
		NotifyScanner: func(hz int64) {
			if scheduler != nil {
				scheduler.OnCenterChanged(hz)
			}
		},
	})

	pipeline := chanscan.NewActivityPipeline(registry, logger, provider, *channelSpacing, *record, *autoPriority, *logTimeout)

	if !*sim {
		fmt.Fprintln(os.Stderr, "chanscand: only --sim is implemented in this build; pass --sim to run against the reference receiver")
		return 2
	}

	carriers := make([]int64, 0, len(singles))
	receiver := chanscan.NewSimulatedReceiver(centerHz, *sampleRate, *numDemod, carriers, pipeline, clock)

	estimator := &chanscan.ChannelEstimator{SampleRate: *sampleRate, ChannelSpacing: *channelSpacing}

	scheduler = chanscan.NewScheduler(registry, receiver, estimator, provider, pipeline, clock, chanscan.SchedulerConfig{
		ThresholdDB:  *thresholdDB,
		HangTime:     1.0, // seconds, per spec
		MaxRecording: maxRecording.Seconds(),
	})
	scheduler.Metrics = metrics

	if err := scheduler.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "chanscand: %v\n", err)
		return 1
	}

	wsPath := appCfg.Websocket.Path
	if wsPath == "" {
		wsPath = "/ws"
	}

	var ui *chanscan.UIServer
	if *wsAddr != "" {
		ui = chanscan.NewUIServer(wsPath)
		mux := http.NewServeMux()
		mux.HandleFunc(wsPath, ui.Handler())
		go func() {
			if err := http.ListenAndServe(*wsAddr, mux); err != nil {
				fmt.Fprintf(os.Stderr, "chanscand: ui websocket server: %v\n", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			provider.Stop()
			return 130
		case <-ticker.C:
			if err := scheduler.ScanCycle(); err != nil {
				continue
			}
			if ui != nil {
				channels := scheduler.Channels()
				lockouts := chanscan.LockoutPane(registry.Entries(), channels)
				ui.Broadcast(chanscan.UIChannelPane(channels), lockouts)
			}
		}
	}
}

func serveMetrics(addr, path string) {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "chanscand: metrics server: %v\n", err)
	}
}

// parseFreqFlags translates repeated -f/--freq values (either "F" or
// "LO-HI", in Hz) into the provider's singles/ranges input, per spec.md
// §6's CLI surface.
func parseFreqFlags(values []string) ([]chanscan.FrequencySingle, []chanscan.FrequencyRange, error) {
	var singles []chanscan.FrequencySingle
	var ranges []chanscan.FrequencyRange

	for _, v := range values {
		if idx := strings.IndexByte(v, '-'); idx > 0 {
			lo, err := strconv.ParseInt(v[:idx], 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid frequency range %q: %w", v, err)
			}
			hi, err := strconv.ParseInt(v[idx+1:], 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid frequency range %q: %w", v, err)
			}
			if lo >= hi {
				return nil, nil, fmt.Errorf("invalid frequency range %q: lo must be less than hi", v)
			}
			ranges = append(ranges, chanscan.FrequencyRange{Lo: lo, Hi: hi})
			continue
		}
		f, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid frequency %q: %w", v, err)
		}
		singles = append(singles, chanscan.FrequencySingle{Freq: f})
	}

	return singles, ranges, nil
}
