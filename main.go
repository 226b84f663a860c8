package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/compositor/cmd"
	"github.com/smazurov/compositor/internal/api"
	"github.com/smazurov/compositor/internal/config"
	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/events"
	"github.com/smazurov/compositor/internal/layout"
	"github.com/smazurov/compositor/internal/logging"
	"github.com/smazurov/compositor/internal/metrics"
	"github.com/smazurov/compositor/internal/settings"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Engine settings
	VideoBaseWidth    int    `help:"Canvas width" default:"1280" toml:"video.base_width" env:"VIDEO_BASE_WIDTH"`
	VideoBaseHeight   int    `help:"Canvas height" default:"720" toml:"video.base_height" env:"VIDEO_BASE_HEIGHT"`
	VideoOutputWidth  int    `help:"Output width, canvas width when zero" default:"0" toml:"video.output_width" env:"VIDEO_OUTPUT_WIDTH"`
	VideoOutputHeight int    `help:"Output height, canvas height when zero" default:"0" toml:"video.output_height" env:"VIDEO_OUTPUT_HEIGHT"`
	VideoFPSNum       int    `help:"Frame rate numerator" default:"30" toml:"video.fps_num" env:"VIDEO_FPS_NUM"`
	VideoFPSDen       int    `help:"Frame rate denominator" default:"1" toml:"video.fps_den" env:"VIDEO_FPS_DEN"`
	AudioSampleRate   int    `help:"Master audio sample rate" default:"48000" toml:"audio.sample_rate" env:"AUDIO_SAMPLE_RATE"`
	AudioChannels     int    `help:"Master audio channels" default:"2" toml:"audio.channels" env:"AUDIO_CHANNELS"`
	EngineAutostart   bool   `help:"Start the engine when the server starts" default:"true" toml:"engine.autostart" env:"ENGINE_AUTOSTART"`
	EngineLocale      string `help:"Locale for text overlays" default:"zh-CN" toml:"engine.locale" env:"ENGINE_LOCALE"`
	EngineStallMs     int    `help:"Source stall timeout in milliseconds" default:"5000" toml:"engine.stall_timeout_ms" env:"ENGINE_STALL_TIMEOUT_MS"`
	FontDirectory     string `help:"Directory searched for overlay fonts" default:"" toml:"engine.font_directory" env:"ENGINE_FONT_DIRECTORY"`
	ShowTimestamp     bool   `help:"Burn a timestamp into program frames" default:"false" toml:"engine.show_timestamp" env:"ENGINE_SHOW_TIMESTAMP"`
	TimestampFontPath string `help:"Font used for the timestamp" default:"" toml:"engine.timestamp_font_path" env:"ENGINE_TIMESTAMP_FONT_PATH"`

	// Layout settings
	LayoutFile       string `help:"Layout file applied at startup" default:"layout.toml" toml:"layout.file" env:"LAYOUT_FILE"`
	LayoutWatch      bool   `help:"Re-apply the layout file when it changes" default:"true" toml:"layout.watch" env:"LAYOUT_WATCH"`
	LayoutDebounceMs int    `help:"Delay before applying a changed layout file" default:"500" toml:"layout.debounce_ms" env:"LAYOUT_DEBOUNCE_MS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingEngine  string `help:"Engine logging level" default:"info" toml:"logging.engine" env:"LOGGING_ENGINE"`
	LoggingOutput  string `help:"Output logging level" default:"info" toml:"logging.output" env:"LOGGING_OUTPUT"`
	LoggingDisplay string `help:"Display logging level" default:"info" toml:"logging.display" env:"LOGGING_DISPLAY"`
	LoggingFFmpeg  string `help:"FFmpeg logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingLayout  string `help:"Layout logging level" default:"info" toml:"logging.layout" env:"LOGGING_LAYOUT"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP    string `help:"HTTP request logging level" default:"info" toml:"logging.http" env:"LOGGING_HTTP"`
}

func (o *Options) engineSettings() settings.Settings {
	return settings.Settings{
		Locale:            o.EngineLocale,
		FontDirectory:     o.FontDirectory,
		ShowTimestamp:     o.ShowTimestamp,
		TimestampFontPath: o.TimestampFontPath,
		StallTimeoutMs:    o.EngineStallMs,
		Video: settings.Video{
			BaseWidth:    o.VideoBaseWidth,
			BaseHeight:   o.VideoBaseHeight,
			OutputWidth:  o.VideoOutputWidth,
			OutputHeight: o.VideoOutputHeight,
			FPSNum:       o.VideoFPSNum,
			FPSDen:       o.VideoFPSDen,
		},
		Audio: settings.Audio{
			SampleRate: o.AudioSampleRate,
			Channels:   o.AudioChannels,
		},
	}
}

func main() {
	var root *cobra.Command

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if err := config.LoadDotEnv(".env"); err != nil {
			slog.Warn("Failed to load .env", "error", err)
		}
		if loadErr := config.LoadConfig(opts, root); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"engine":  opts.LoggingEngine,
				"output":  opts.LoggingOutput,
				"display": opts.LoggingDisplay,
				"ffmpeg":  opts.LoggingFFmpeg,
				"layout":  opts.LoggingLayout,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingHTTP,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		api.ForwardLogs(eventBus)

		m := metrics.New()
		eng := engine.New(engine.Options{
			Bus:     eventBus,
			Metrics: m,
			Logger:  logging.GetLogger("engine"),
		})

		store := layout.NewStore(opts.LayoutFile)
		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Engine:            eng,
			Layout:            store,
			PrometheusHandler: m.Handler(),
		})

		var watcher interface{ Stop() error }
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			if opts.EngineAutostart {
				if err := eng.Startup(ctx, opts.engineSettings()); err != nil {
					logger.Error("Failed to start engine", "error", err)
					os.Exit(1)
				}
				layoutLogger := logging.GetLogger("layout")
				if err := store.Load(); err != nil {
					logger.Warn("Failed to load layout", "path", store.Path(), "error", err)
				} else if err := layout.Apply(ctx, eng, store.Layout(), layoutLogger); err != nil {
					logger.Warn("Layout partially applied", "path", store.Path(), "error", err)
				}
				if opts.LayoutWatch {
					debounce := time.Duration(opts.LayoutDebounceMs) * time.Millisecond
					w, err := layout.Watch(ctx, store.Path(), eng, debounce, layoutLogger)
					if err != nil {
						logger.Warn("Failed to watch layout file", "path", store.Path(), "error", err)
					} else {
						watcher = w
					}
				}
			}

			if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
				logger.Debug("sd_notify failed", "error", err)
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if err := server.Start(opts.Port); err != nil {
				logger.Error("Failed to start HTTP server", "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()

			if err := server.Stop(stopCtx); err != nil {
				logger.Error("Error stopping HTTP server", "error", err)
			}
			if watcher != nil {
				if err := watcher.Stop(); err != nil {
					logger.Warn("Error stopping layout watcher", "error", err)
				}
			}
			cancel()

			// Outputs are stopped after the API so no request races the teardown.
			if err := eng.Shutdown(stopCtx); err != nil {
				logger.Error("Engine shutdown reported errors", "error", err)
			}
		})
	})
	root = cli.Root()

	root.AddCommand(cmd.CreateLayoutCmd())
	root.AddCommand(cmd.CreateEncodersCmd())

	cli.Run()
}
