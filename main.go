package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"i4.energy/across/sim800gw/modem"
)

const (
	shutdownTimeout = 30 * time.Second
	consoleTimeout  = 2 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [serve|console] [flags]\n", os.Args[0])
}

func run(args []string) int {
	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "console") {
		cmd, args = args[0], args[1:]
	}

	fSet := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fSet.Usage = func() {
		usage()
		fSet.PrintDefaults()
	}
	configFile := fSet.String("config", "", "Path to a TOML config file")
	fSet.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the modem")
	fSet.Int("baud-rate", modem.DefaultBaudRate, "Baud rate for serial communication")
	fSet.String("log-level", "info", "Log level (debug, info, warn, error)")
	fSet.String("sim-pin", "", "SIM card PIN code (if required)")
	fSet.String("power-pin", "", "GPIO pin wired to the modem power key")
	if cmd == "serve" {
		fSet.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
		fSet.String("http-token", "", "Bearer token required by the HTTP API")
		fSet.Int("rate-per-min", 30, "Maximum SMS sent per minute, 0 for unlimited")
		fSet.Int("max-retries", 3, "Retries of a failed SMS")
		fSet.Int("miss-call-attempts", 3, "Default dial attempts of a miss call")
		fSet.String("mqtt-broker", "", "MQTT broker URL, empty disables the bridge")
	}
	if err := fSet.Parse(args); err != nil {
		return 2
	}

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(fSet))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	logger, err := newLogger(config.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if cmd == "console" {
		err = console(config, logger)
	} else {
		err = serve(config, logger)
	}
	if err != nil {
		logger.Error("Exiting", zap.Error(err))
		return 1
	}
	return 0
}

// openModem dials the modem on the configured serial port. With setup the
// modem is powered on and initialized, otherwise it is used as found.
func openModem(ctx context.Context, config *Config, logger *zap.Logger, setup bool) (*modem.Modem, error) {
	builder := modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithBaudRate(config.BaudRate).
		WithSimPIN(config.SimPIN).
		WithLogger(logger.Named("modem"))

	if config.PowerPin != "" {
		pin, err := modem.OpenGPIOPin(config.PowerPin)
		if err != nil {
			return nil, fmt.Errorf("open power pin: %w", err)
		}
		builder.WithPowerPin(pin)
	}
	if !setup {
		builder.WithoutSetup()
	}

	modemConfig, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("modem config: %w", err)
	}
	return modem.New(ctx, modemConfig)
}

func serve(config *Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, err := openModem(ctx, config, logger, true)
	if err != nil {
		return fmt.Errorf("create modem: %w", err)
	}

	logger.Info("Starting SMS gateway",
		zap.String("serial_port", config.SerialPort),
		zap.Bool("mqtt", config.MQTT.Broker != ""),
	)

	outbox := NewOutbox(m, config.RatePerMin, config.MaxRetries, logger.Named("outbox"))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		outbox.Run(ctx)
	}()

	var sink EventSink
	var bridge *Bridge
	if config.MQTT.Broker != "" {
		bridge = NewBridge(config.MQTT, outbox, logger.Named("mqtt"))
		if err := bridge.Start(); err != nil {
			logger.Error("MQTT bridge failed", zap.Error(err))
		} else {
			sink = bridge
		}
	}

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		events := m.Watch(ctx, modem.DefaultWatchInterval)
		forwardEvents(ctx, events, m, sink, logger.Named("events"))
	}()

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:           logger.Named("server"),
			Modem:            m,
			Outbox:           outbox,
			Token:            config.HTTPToken,
			MissCallAttempts: config.MissCallAttempts,
		},
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err = <-serverErr:
		logger.Error("HTTP server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", zap.Error(err))
	}

	<-workerDone
	<-watchDone
	if bridge != nil {
		bridge.Stop()
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", zap.Error(err))
	}

	return err
}

func console(config *Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	m, err := openModem(ctx, config, logger, false)
	if err != nil {
		return fmt.Errorf("create modem: %w", err)
	}
	defer m.Close()

	rl, err := newLineReader()
	if err != nil {
		return fmt.Errorf("open console: %w", err)
	}
	defer rl.Close()

	fmt.Print(consoleHelp)
	return runConsole(ctx, m, rl, os.Stdout, consoleTimeout)
}
