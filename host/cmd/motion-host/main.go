// Command motion-host runs the motion core on the host. It streams G-code
// from a file, a serial port or the console into a simulated machine and
// can publish machine status over a websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"gomotion/core"
	"gomotion/host/serial"
	"gomotion/host/status"
	"gomotion/standalone"
	"gomotion/standalone/config"
	"gomotion/standalone/manager"
)

var (
	configPath = flag.String("config", "", "Machine configuration (JSON); empty uses the Cartesian defaults")
	gcodeFile  = flag.String("file", "", "G-code file to stream")
	device     = flag.String("device", "", "Serial device to serve G-code from")
	baud       = flag.Int("baud", 250000, "Baud rate (ignored for USB CDC)")
	statusAddr = flag.String("status", "", "Listen address for the status websocket (e.g. :7125)")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	logger := log.New(os.Stderr, "motion-host: ", log.LstdFlags)

	if flag.Arg(0) == "schema" {
		if err := writeSchema(os.Stdout); err != nil {
			logger.Fatal(err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [schema]\n", os.Args[0])
	flag.PrintDefaults()
}

func writeSchema(w io.Writer) error {
	data, err := config.Schema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func loadConfig(path string) (*standalone.MachineConfig, error) {
	if path == "" {
		return config.DefaultCartesianConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return config.LoadConfig(data)
}

func run(ctx context.Context, logger *log.Logger) error {
	core.SetDebugWriter(func(s string) { logger.Println(s) })
	core.SetDebugEnabled(*verbose)
	core.TimerInit()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *device == "" {
		*device = cfg.Host.Device
	}
	if !flagSet("baud") && cfg.Host.Baud != 0 {
		*baud = cfg.Host.Baud
	}
	if *statusAddr == "" {
		*statusAddr = cfg.Host.StatusListen
	}

	m, err := manager.NewManagerWithConfig(cfg)
	if err != nil {
		return err
	}
	if err := m.Initialize(manager.Options{}); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if err := m.Start(); err != nil {
		return err
	}
	defer m.Stop()
	logger.Printf("%s machine ready", cfg.Kinematics)

	if *statusAddr != "" {
		shutdown := serveStatus(ctx, *statusAddr, m, logger)
		defer shutdown()
	}

	switch {
	case *gcodeFile != "":
		if err := streamFile(ctx, m, *gcodeFile, os.Stdout); err != nil {
			return err
		}
		if *statusAddr != "" {
			<-ctx.Done()
		}
		return nil
	case *device != "":
		return serveDevice(ctx, m, logger)
	default:
		return newConsole(m, os.Stdin, os.Stdout, logger).Run(ctx)
	}
}

func flagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func serveStatus(ctx context.Context, addr string, m *manager.Manager, logger *log.Logger) func() {
	hub := status.NewHub(m, logger)
	srv := &http.Server{Addr: addr, Handler: hub.Handler()}

	hubCtx, cancel := context.WithCancel(ctx)
	go hub.Run(hubCtx, 250*time.Millisecond)
	go func() {
		logger.Printf("status server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("status server: %v", err)
		}
	}()

	return func() {
		cancel()
		srv.Close()
	}
}

func streamFile(ctx context.Context, m *manager.Manager, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rw := struct {
		io.Reader
		io.Writer
	}{f, out}
	if err := serial.Serve(ctx, rw, m); err != nil {
		return fmt.Errorf("stream %s: %w", path, err)
	}
	return m.Queue().Synchronize(ctx)
}

func serveDevice(ctx context.Context, m *manager.Manager, logger *log.Logger) error {
	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud

	port, err := serial.Open(cfg)
	if err != nil {
		return err
	}
	defer port.Close()

	logger.Printf("serving G-code on %s", *device)
	if _, err := port.Write(m.GetOutput()); err != nil {
		return err
	}
	return serial.Serve(ctx, port, m)
}
