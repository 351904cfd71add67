package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aquaflash/internal/api"
	"aquaflash/internal/compiler"
	"aquaflash/internal/config"
	"aquaflash/internal/events"
	"aquaflash/internal/flasher"
	"aquaflash/internal/metrics"
	"aquaflash/internal/mqtt"
	"aquaflash/internal/registry"
	"aquaflash/internal/serialport"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return serve(path)
		},
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := log.New(os.Stderr, "", log.LstdFlags)
	logger.Printf("Configuration loaded: %s", cfg)

	keys := registry.NewKeyManager(cfg.APIKeySecret())
	reg, err := registry.NewBoltRegistry(cfg.DBPath(), keys)
	if err != nil {
		return err
	}
	defer reg.Close()

	m := metrics.New()
	comp, err := newCompiler(cfg, logger)
	if err != nil {
		return err
	}

	driver := flasher.NewDriver(
		newOpener(cfg, logger),
		m.InstrumentCompiler(comp),
		flasher.WithLog(events.NewStore(cfg.ConsoleLines())),
		flasher.WithLogger(logger),
		flasher.WithObserver(m.Observe),
	)

	monitor := mqtt.NewMonitor(keys, logger, func(c mqtt.Contact) {
		logger.Printf("[Telemetry] %s reported %s (%d readings)", c.DeviceMAC, c.ReadingType, c.Readings)
	})
	monitor.OnResult(m.ObserveTelemetry)

	var discovery *mqtt.DiscoveryManager
	if cfg.MQTTBroker() != "" {
		client, err := mqtt.New(mqtt.Config{
			Broker:   cfg.MQTTBroker(),
			ClientID: cfg.MQTTClientID(),
			Username: cfg.MQTTUsername(),
			Password: cfg.MQTTPassword(),
			Prefix:   cfg.MQTTPrefix(),
			UseTLS:   cfg.MQTTUseTLS(),
		}, logger)
		if err != nil {
			return err
		}
		if err := client.Connect(); err != nil {
			logger.Printf("[MQTT] %v, continuing without MQTT", err)
		} else {
			defer client.Disconnect()

			driver.Subscribe(mqtt.NewFlashPublisher(client, logger).Observe)
			if err := monitor.Start(client); err != nil {
				logger.Printf("[MQTT] %v", err)
			}
			if cfg.MQTTDiscovery() {
				discovery = mqtt.NewDiscoveryManager(client, logger)
			}
		}
	}

	server := api.NewServer(api.Deps{
		Registry:  reg,
		Driver:    driver,
		Metrics:   m,
		Monitor:   monitor,
		Discovery: discovery,
		Logger:    logger,
	})

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("aquaflash %s starting on %s\n", Version, addr)
		printAccessURLs(portOf(addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Printf("Shutting down")
	driver.Disconnect()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newOpener(cfg *config.Config, logger *log.Logger) flasher.Opener {
	if cfg.SerialVirtual() {
		logger.Printf("[Serial] Using a virtual loopback port")
		return serialport.NewVirtualOpener(logger)
	}
	return serialport.NewUSBOpener(cfg.SerialPort(), logger)
}

func newCompiler(cfg *config.Config, logger *log.Logger) (*compiler.Client, error) {
	opts := []compiler.Option{compiler.WithLogger(logger)}
	if key := cfg.CompilerPubKey(); key != "" {
		pub, err := compiler.ParsePublicKey(key)
		if err != nil {
			return nil, fmt.Errorf("invalid compiler public key: %w", err)
		}
		opts = append(opts, compiler.WithPublicKey(pub))
	}
	return compiler.New(cfg.CompilerURL(), opts...), nil
}

func portOf(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[idx+1:]
	}
	return addr
}

// getLocalIPs returns all local IPv4 addresses
func getLocalIPs() []string {
	var ips []string

	interfaces, err := net.Interfaces()
	if err != nil {
		return ips
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip.String())
		}
	}

	return ips
}

// printAccessURLs prints where the API can be reached; generated firmware
// needs one of these as its server host.
func printAccessURLs(port string) {
	ips := getLocalIPs()
	if len(ips) == 0 {
		fmt.Printf("\nAPI available at http://localhost:%s\n", port)
		return
	}

	fmt.Println("\nAccess URLs:")
	for _, ip := range ips {
		fmt.Printf("  http://%s:%s\n", ip, port)
	}
	fmt.Println()
}
