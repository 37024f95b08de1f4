package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"

	"i4.energy/across/wifigw/httpd"
	"i4.energy/across/wifigw/mqtt"
	"i4.energy/across/wifigw/wifi"
)

const (
	pollInterval  = 5 * time.Millisecond
	sweepInterval = 5 * time.Second
	pingInterval  = 30 * time.Second

	// mqttLink is the multiplexed connection id reserved for the broker
	// session; the HTTP server claims the remaining links.
	mqttLink = 4
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the co-processor")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:9100", "Bind address for the diagnostics server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("ssid", "", "WiFi access point to join")
	flag.String("wifi-password", "", "WiFi access point passphrase")
	flag.Int("http-port", 80, "Port for the co-processor's TCP server")
	flag.String("broker-host", "", "MQTT broker host (empty disables MQTT)")
	flag.Int("broker-port", 1883, "MQTT broker port")
	flag.String("client-id", "", "MQTT client identifier")
	flag.String("topic", "wifigw/cmd/#", "MQTT topic filter to subscribe to")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	registry := prometheus.NewRegistry()

	deviceConfig, err := wifi.NewConfigBuilder().
		WithLogger(logger).
		WithRegisterer(registry).
		WithATTimeout(5 * time.Second).
		WithInitTimeout(30 * time.Second).
		WithDialer(wifi.SerialDialer{
			PortName: config.SerialPort,
			Mode: &serial.Mode{
				BaudRate: config.BaudRate,
				Parity:   serial.NoParity,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			},
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create device config", "error", err)
		os.Exit(1)
	}

	dev, err := wifi.New(context.Background(), deviceConfig)
	if err != nil {
		logger.Error("Failed to create device", "error", err)
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 60*time.Second)
	if err := startup(startCtx, logger, dev, config); err != nil {
		cancelStart()
		logger.Error("Failed to bring up gateway", "error", err)
		if cerr := dev.Close(); cerr != nil {
			logger.Error("Failed to close device", "error", cerr)
		}
		os.Exit(1)
	}
	cancelStart()

	var ledOn atomic.Bool

	// One demux owns the inbound stream; each consumer polls only the links
	// it claimed, so MQTT packets never get answered as HTTP requests.
	dmx := wifi.NewDemux(dev, logger)
	webLinks := []int{0, 1, 2, 3, mqttLink}
	if config.BrokerHost != "" {
		webLinks = webLinks[:mqttLink]
	}
	webLeg, err := dmx.Claim(webLinks...)
	if err != nil {
		logger.Error("Failed to claim HTTP links", "error", err)
		os.Exit(1)
	}

	web := httpd.NewServer(webLeg,
		httpd.WithLogger(logger),
		httpd.WithRegisterer(registry),
	)
	registerRoutes(logger, web, dev, &ledOn)

	var session *mqtt.Session
	if config.BrokerHost != "" {
		mqttLeg, err := dmx.Claim(mqttLink)
		if err != nil {
			logger.Error("Failed to claim MQTT link", "error", err)
			os.Exit(1)
		}
		session = mqtt.NewSession(mqttLeg, mqtt.SessionConfig{
			BrokerHost: config.BrokerHost,
			BrokerPort: config.BrokerPort,
			ClientID:   config.ClientID,
			Link:       mqttLink,
		},
			mqtt.WithLogger(logger),
			mqtt.WithRegisterer(registry),
		)
		session.OnMessage(func(topic string, payload []byte) {
			logger.Info("MQTT message received", "topic", topic, "payload_length", len(payload))
			switch string(payload) {
			case "on":
				ledOn.Store(true)
			case "off":
				ledOn.Store(false)
			}
		})
	}

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Diagnostics{
			Logger:   logger.With("component", "diag"),
			Registry: registry,
			Device:   dev,
			Web:      web,
			Session:  session,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting diagnostics server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("diagnostics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return run(ctx, logger, web, session, config.Topic)
	})

	// Wait for interrupt signal (or a failed goroutine), then unwind.
	<-ctx.Done()
	logger.Info("Shutting down")

	if session != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := session.Disconnect(shutdownCtx); err != nil {
			logger.Error("Failed to disconnect broker session", "error", err)
		}
		cancel()
	}

	logger.Info("Closing device connection")
	if err := dev.Close(); err != nil {
		logger.Error("Failed to close device", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Closing diagnostics server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
		os.Exit(1)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Gateway stopped with error", "error", err)
		os.Exit(1)
	}
}

// startup joins the access point and opens the co-processor's TCP server.
func startup(ctx context.Context, logger *slog.Logger, dev *wifi.Device, config *Config) error {
	if config.SSID != "" {
		if err := dev.StationMode(ctx); err != nil {
			return fmt.Errorf("station mode: %w", err)
		}
		logger.Info("Joining access point", "ssid", config.SSID)
		if err := dev.Join(ctx, config.SSID, config.Password); err != nil {
			return fmt.Errorf("join %q: %w", config.SSID, err)
		}
		ip, err := dev.LocalIP(ctx)
		if err != nil {
			logger.Warn("Failed to query local address", "error", err)
		} else {
			logger.Info("Joined access point", "ssid", config.SSID, "ip", ip)
		}
	}

	if err := dev.StartServer(ctx, config.HTTPPort); err != nil {
		return fmt.Errorf("start server on port %d: %w", config.HTTPPort, err)
	}
	logger.Info("TCP server listening", "port", config.HTTPPort)
	return nil
}

func registerRoutes(logger *slog.Logger, web *httpd.Server, dev *wifi.Device, ledOn *atomic.Bool) {
	must := func(path string, h httpd.Handler) {
		if err := web.Handle(path, h); err != nil {
			logger.Error("Failed to register route", "path", path, "error", err)
			os.Exit(1)
		}
	}

	must("/", func(link int, req *httpd.Request) *httpd.Response {
		return httpd.HTML(http.StatusOK,
			"<html><body><h1>wifigw</h1><p>serial WiFi co-processor gateway</p></body></html>")
	})

	must("/status", func(link int, req *httpd.Request) *httpd.Response {
		led := "off"
		if ledOn.Load() {
			led = "on"
		}
		body := fmt.Sprintf("led=%s overruns=%d\n", led, dev.Overruns())
		return httpd.Text(http.StatusOK, body)
	})

	must("/led", func(link int, req *httpd.Request) *httpd.Response {
		params, err := url.ParseQuery(req.Query)
		if err != nil {
			return httpd.Text(http.StatusBadRequest, "bad query string\n")
		}
		switch params.Get("state") {
		case "on":
			ledOn.Store(true)
		case "off":
			ledOn.Store(false)
		default:
			return httpd.Text(http.StatusBadRequest, "state must be on or off\n")
		}
		return httpd.Text(http.StatusOK, "ok\n")
	})
}

// run is the gateway's cooperative loop. The HTTP demultiplexer and the MQTT
// session share the one inbound byte stream, so their polls are interleaved
// on a single goroutine; periodic work rides tickers checked each cycle.
func run(ctx context.Context, logger *slog.Logger, web *httpd.Server, session *mqtt.Session, topic string) error {
	if session != nil {
		if err := connectBroker(ctx, session, topic); err != nil {
			// The broker may simply not be up yet; the ping ticker retries.
			logger.Warn("Initial broker connect failed", "error", err)
		}
	}

	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			web.Sweep(ctx)
		case <-ping.C:
			if session != nil {
				if err := session.Ping(ctx); err != nil {
					logger.Warn("Broker keepalive failed, reconnecting", "error", err)
					if err := connectBroker(ctx, session, topic); err != nil {
						logger.Warn("Broker reconnect failed", "error", err)
					}
				}
			}
		default:
		}

		if err := web.Poll(ctx); err != nil {
			return fmt.Errorf("http poll: %w", err)
		}
		if session != nil {
			if err := session.Poll(ctx); err != nil {
				return fmt.Errorf("mqtt poll: %w", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// connectBroker establishes the broker session and restores the topic
// subscription, which does not survive a reconnect.
func connectBroker(ctx context.Context, session *mqtt.Session, topic string) error {
	if err := session.EnsureConnected(ctx); err != nil {
		return err
	}
	if topic == "" {
		return nil
	}
	return session.Subscribe(ctx, topic, 1)
}
