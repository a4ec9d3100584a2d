// tracectx is a development tool around the extraction library: it resolves
// the trace context of recorded invocation events from the command line,
// over HTTP, or continuously while an event file is being edited, and can
// emulate the receive side of the X-Ray daemon to show what the emitter
// actually puts on the wire.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/apmtools/lambda-tracecontext/internal/utils"
	"github.com/apmtools/lambda-tracecontext/trace"
)

type Options struct {
	Watch    bool   `long:"watch" description:"keep running and re-extract whenever the event file changes"`
	Serve    string `long:"serve" description:"serve POST /extract on this address" value-name:"host:port"`
	Listen   bool   `long:"listen" description:"emulate the daemon on AWS_XRAY_DAEMON_ADDRESS and log received subsegments"`
	LogLevel string `long:"log-level" default:"info" description:"trace, debug, info, warn or error"`

	Args struct {
		EventFile string `positional-arg-name:"event.json"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}
	configureLogging(opts.LogLevel)

	if opts.Serve != "" || opts.Listen {
		runServers(&opts)
		return
	}

	if opts.Args.EventFile == "" {
		log.Fatalln("An event file is required unless --serve or --listen is given")
	}
	if err := resolveFile(opts.Args.EventFile); err != nil {
		log.Fatalln("Extraction failed:", err)
	}
	if opts.Watch {
		if err := watchFile(opts.Args.EventFile); err != nil {
			log.Fatalln("Watcher failed:", err)
		}
	}
}

func configureLogging(level string) {
	switch level {
	case "trace":
		log.SetFormatter(&log.JSONFormatter{})
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
		log.Warnln("Unknown log level, defaulting to info:", level)
	}
}

func runServers(opts *Options) {
	var group errgroup.Group
	if opts.Listen {
		address := utils.GetEnvWithDefault(trace.DaemonAddressEnvVar, "127.0.0.1:2000")
		emulator := newDaemonEmulator(address, opts.LogLevel)
		group.Go(emulator.Run)
	}
	if opts.Serve != "" {
		server := newInspectServer(opts.Serve)
		log.Infoln("Serving POST /extract on", opts.Serve)
		group.Go(server.ListenAndServe)
	}
	if err := group.Wait(); err != nil {
		log.Fatalln("Server exited:", err)
	}
}

type extractResult struct {
	Context      *trace.Context             `json:"context"`
	StepFunction *trace.StepFunctionContext `json:"stepFunction,omitempty"`
}

// resolveFile runs one extraction pass over the event stored in path and
// prints the outcome.
func resolveFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	cfg := trace.LoadConfig()
	resolved, sfnContext := trace.NewResolver(cfg, nil).Resolve(context.Background(), payload)

	output, err := json.MarshalIndent(extractResult{Context: resolved, StepFunction: sfnContext}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}
