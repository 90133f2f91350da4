// Command blockcryptctl is the control-plane CLI for blockcrypt targets:
// "serve" runs the HTTP control plane in-process, and every other
// subcommand (create, status, message, suspend, resume, remove,
// hardware) is a client of a running "blockcryptctl serve" instance
// over HTTP.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/kenneth/blockcrypt/internal/config"
	"github.com/kenneth/blockcrypt/internal/debug"
	"github.com/kenneth/blockcrypt/internal/devicemapper"
	"github.com/kenneth/blockcrypt/internal/logging"
	"github.com/kenneth/blockcrypt/internal/metrics"
	"github.com/kenneth/blockcrypt/internal/middleware"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(args)
	case "create":
		err = runCreate(args)
	case "status":
		err = runStatus(args)
	case "message":
		err = runMessage(args)
	case "suspend":
		err = runSuspend(args)
	case "resume":
		err = runResume(args)
	case "remove":
		err = runRemove(args)
	case "hardware":
		err = runHardware(args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("blockcryptctl %s: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: blockcryptctl <serve|create|status|message|suspend|resume|remove|hardware> [flags]")
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8090", "address to listen on")
	logLevel := fs.String("log-level", "info", "log level")
	configPath := fs.String("config", "", "path to a YAML config file (defaults used if omitted)")
	fs.Parse(args)

	log := logging.New(*logLevel, "text")
	debug.InitFromLogLevel(*logLevel)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	registry, err := devicemapper.NewRegistryFromConfig(cfg)
	if err != nil {
		return err
	}
	m := metrics.NewMetrics()
	m.StartSystemMetricsCollector()

	router := mux.NewRouter()
	devicemapper.NewHandler(registry).RegisterRoutes(router)
	router.Handle("/metrics", m.Handler())
	router.HandleFunc("/healthz", metrics.LivenessHandler())
	router.HandleFunc("/readyz", metrics.ReadinessHandler(nil))
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.LoggingMiddleware(log))

	srv := &http.Server{Addr: *addr, Handler: router}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.WithField("addr", *addr).Info("blockcryptctl: control-plane server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("blockcryptctl: server failed")
		}
	}()

	<-sigCh
	log.Info("blockcryptctl: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	name := fs.String("name", "", "target name")
	cipherSpec := fs.String("cipher-spec", "aes-cbc-essiv:sha256", "cipher spec, cipher[-chainmode[-ivmode[:ivopts]]]")
	keyHex := fs.String("key", "-", "key in lowercase hex, or - for no key yet")
	ivOffset := fs.String("iv-offset", "0", "IV offset")
	device := fs.String("device", "", "backing device or file path")
	startSector := fs.String("start-sector", "0", "start sector on the backing device")
	fs.Parse(args)

	if *name == "" || *device == "" {
		return fmt.Errorf("create: -name and -device are required")
	}

	body, _ := json.Marshal(map[string]string{
		"name":         *name,
		"cipher_spec":  *cipherSpec,
		"key_hex":      *keyHex,
		"iv_offset":    *ivOffset,
		"device":       *device,
		"start_sector": *startSector,
	})
	return httpDo(http.MethodPost, *server+"/targets", body)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	name := fs.String("name", "", "target name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("status: -name is required")
	}
	return httpDo(http.MethodGet, *server+"/targets/"+*name+"/status", nil)
}

func runMessage(args []string) error {
	fs := flag.NewFlagSet("message", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	name := fs.String("name", "", "target name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("message: -name is required")
	}
	msgArgs := strings.Fields(strings.Join(fs.Args(), " "))
	body, _ := json.Marshal(map[string][]string{"args": msgArgs})
	return httpDo(http.MethodPost, *server+"/targets/"+*name+"/message", body)
}

func runSuspend(args []string) error {
	fs := flag.NewFlagSet("suspend", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	name := fs.String("name", "", "target name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("suspend: -name is required")
	}
	return httpDo(http.MethodPost, *server+"/targets/"+*name+"/suspend", nil)
}

func runResume(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	name := fs.String("name", "", "target name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("resume: -name is required")
	}
	return httpDo(http.MethodPost, *server+"/targets/"+*name+"/resume", nil)
}

func runRemove(args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	name := fs.String("name", "", "target name")
	fs.Parse(args)
	if *name == "" {
		return fmt.Errorf("remove: -name is required")
	}
	return httpDo(http.MethodDelete, *server+"/targets/"+*name, nil)
}

func runHardware(args []string) error {
	fs := flag.NewFlagSet("hardware", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8090", "blockcryptctl serve address")
	fs.Parse(args)
	return httpDo(http.MethodGet, *server+"/hardware", nil)
}

func httpDo(method, url string, body []byte) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %s: %v", resp.Status, out["error"])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
