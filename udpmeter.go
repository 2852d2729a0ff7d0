package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gologme/log"

	"udpmeter/pkg/gen"
)

func main() {
	if err := mainErr(); err != nil {
		log.Fatal(err)
	}
}

type Config struct {
	Serve       bool              `yaml:"serve"`
	Network     string            `yaml:"network"`
	Endpoint    string            `yaml:"endpoint"`
	BufferSize  int               `yaml:"bufferSize"`
	Echo        bool              `yaml:"echo"`
	AllowEcho   bool              `yaml:"allowEcho"`
	Generator   string            `yaml:"generator"`
	Options     map[string]string `yaml:"options"`
	QueueDepth  int               `yaml:"queueDepth"`
	MetricsAddr string            `yaml:"metricsAddr"`
	LogLevel    string            `yaml:"logLevel"`
}

type optionFlags map[string]string

func (o optionFlags) String() string {
	parts := make([]string, 0, len(o))
	for name, value := range o {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, ",")
}

func (o optionFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("invalid option %q, no '=' to split at", s)
	}
	o[name] = value
	return nil
}

func mainErr() error {
	conf := Config{
		Network:   "udp",
		Options:   optionFlags{},
		AllowEcho: true,
	}
	var configPath, analyzeFile, report string
	var avgWidth float64
	var bins int
	flag.BoolVar(&conf.Serve, "serve", false, "server mode")
	flag.StringVar(&conf.Endpoint, "ep", "localhost:7800", "endpoint to send to or local endpoint in server mode")
	flag.IntVar(&conf.BufferSize, "buffer-size", 1500, "size of the send or receive buffer; larger packets cannot be sent, larger incoming packets are dropped")
	flag.BoolVar(&conf.Echo, "echo", false, "request packet echo from the server")
	flag.BoolVar(&conf.AllowEcho, "allow-echo", true, "honor echo requests in server mode")
	flag.StringVar(&conf.Generator, "generator", "default", "schedule generator, one of: "+strings.Join(gen.Names(), ", "))
	flag.Var(optionFlags(conf.Options), "O", "generator option in name=value form, may be repeated")
	flag.IntVar(&conf.QueueDepth, "queue-depth", 0, "bound on queued packets, 0 for unbounded")
	flag.StringVar(&conf.MetricsAddr, "metrics", "", "serve /metrics and /status on this address")
	flag.StringVar(&conf.LogLevel, "loglevel", "info", "log level to enable")
	flag.StringVar(&configPath, "config", "", "read configuration from this YAML file (overrides other flags)")
	flag.StringVar(&analyzeFile, "analyze", "", "analyze a TSV log file instead of measuring")
	flag.StringVar(&report, "report", "rate", "analysis report: rate or iat")
	flag.Float64Var(&avgWidth, "avg-width", 0.01, "rate window width as a fraction of the measurement duration")
	flag.IntVar(&bins, "bins", 50, "number of histogram bins for the iat report")

	flag.Parse()

	if configPath != "" {
		if err := loadConfig(configPath, &conf); err != nil {
			return err
		}
	}

	// records go to stdout, logs to stderr
	logger := log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
	setLogLevel(conf.LogLevel, logger)

	switch {
	case analyzeFile != "":
		return analyzeMain(analyzeFile, report, avgWidth, bins)
	case conf.Serve:
		return serveMain(conf, logger)
	default:
		return clientMain(conf, logger)
	}
}

func setLogLevel(loglevel string, logger *log.Logger) {
	levels := [...]string{"error", "warn", "info", "debug", "trace"}
	loglevel = strings.ToLower(loglevel)

	contains := func() bool {
		for _, l := range levels {
			if l == loglevel {
				return true
			}
		}
		return false
	}

	if !contains() {
		logger.Infoln("loglevel parse failed, using the default (info)")
		loglevel = "info"
	}

	for _, l := range levels {
		logger.EnableLevel(l)
		if l == loglevel {
			break
		}
	}
}
