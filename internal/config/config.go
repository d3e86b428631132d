// Package config loads the S-CSCF process configuration from flags and
// environment variables.
package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// RecordRoutingModel selects which hops get a Record-Route inserted.
type RecordRoutingModel string

const (
	RRModelPCSCF          RecordRoutingModel = "pcscf"
	RRModelPCSCFICSCF     RecordRoutingModel = "pcscf,icscf"
	RRModelPCSCFICSCFAS   RecordRoutingModel = "pcscf,icscf,as"
)

// Config holds the S-CSCF's configuration surface, per spec.md §6.
type Config struct {
	// SIP settings
	Port          int
	BindAddr      string
	AdvertiseAddr string
	LogLevel      string

	// Home domain / aliases
	HomeDomain       string
	AdditionalDomains []string
	Aliases          []string
	ClusterURI       string
	ICSCFURI         string
	BGCFURI          string

	// Registrar settings
	MaxRegisterExpires int
	DefaultSessionExpires int

	// Worker pool
	WorkerThreads int

	// Collaborators
	StoreAddrs      []string
	RemoteStoreAddr string
	HSSBaseURL      string
	ChronosBaseURL  string

	RecordRoutingModel RecordRoutingModel

	EmergencyRegistrationEnabled bool
	AuthEnabled                  bool

	ENUMEndpoint string
	BillingCDFHost string

	// Overload control
	OverloadRatePerSec float64
	OverloadBurst      int

	HTTPTimeout time.Duration
}

// Load parses flags, then applies environment variable overrides.
func Load() *Config {
	cfg := &Config{
		HTTPTimeout: 2 * time.Second,
	}

	var storeAddrs, additionalDomains, aliases, rrModel string

	flag.IntVar(&cfg.Port, "port", 5060, "S-CSCF SIP listening port")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "SIP bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "address to advertise in SIP headers (auto-detected if empty)")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "log level (debug, info, warn, error)")

	flag.StringVar(&cfg.HomeDomain, "home-domain", "example.com", "home domain served by this S-CSCF")
	flag.StringVar(&additionalDomains, "additional-home-domains", "", "comma-separated additional home domains")
	flag.StringVar(&aliases, "aliases", "", "comma-separated alias hostnames for this sproutlet")
	flag.StringVar(&cfg.ClusterURI, "cluster-uri", "", "cluster-wide URI for this S-CSCF's scaled deployment")
	flag.StringVar(&cfg.ICSCFURI, "icscf-uri", "", "I-CSCF URI to route to when the served user is not local")
	flag.StringVar(&cfg.BGCFURI, "bgcf-uri", "", "BGCF URI to route to for off-net / non-SIP termination")

	flag.IntVar(&cfg.MaxRegisterExpires, "max-register-expires", 300, "maximum REGISTER expiry accepted, seconds")
	flag.IntVar(&cfg.DefaultSessionExpires, "default-session-expires", 600, "default Session-Expires, seconds")

	flag.IntVar(&cfg.WorkerThreads, "worker-threads", 1, "worker goroutine pool size")

	flag.StringVar(&storeAddrs, "store", "memory", "comma-separated registration store connection descriptors")
	flag.StringVar(&cfg.RemoteStoreAddr, "remote-store", "", "geo-redundant remote store connection descriptor")
	flag.StringVar(&cfg.HSSBaseURL, "hss", "http://localhost:8888", "HSS base URL")
	flag.StringVar(&cfg.ChronosBaseURL, "chronos", "http://localhost:7253", "Chronos timer-service base URL")

	flag.StringVar(&rrModel, "record-routing-model", "pcscf", "record-routing model: pcscf | pcscf,icscf | pcscf,icscf,as")

	flag.BoolVar(&cfg.EmergencyRegistrationEnabled, "emergency-reg", true, "accept emergency registrations")
	flag.BoolVar(&cfg.AuthEnabled, "auth-enabled", false, "require authentication on REGISTER")

	flag.StringVar(&cfg.ENUMEndpoint, "enum", "", "ENUM endpoint or file")
	flag.StringVar(&cfg.BillingCDFHost, "cdf", "", "billing CDF host")

	flag.Float64Var(&cfg.OverloadRatePerSec, "overload-rate", 2000, "sustained non-ACK requests/sec before 503")
	flag.IntVar(&cfg.OverloadBurst, "overload-burst", 4000, "burst capacity for the overload token bucket")

	flag.Parse()

	cfg.AdditionalDomains = parseList(additionalDomains)
	cfg.Aliases = parseList(aliases)
	cfg.StoreAddrs = parseList(storeAddrs)
	cfg.RecordRoutingModel = RecordRoutingModel(rrModel)

	applyEnvOverrides(cfg)

	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("BIND"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("ADVERTISE"); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("HOME_DOMAIN"); v != "" {
		cfg.HomeDomain = v
	}
	if v := os.Getenv("HSS_URL"); v != "" {
		cfg.HSSBaseURL = v
	}
	if v := os.Getenv("CHRONOS_URL"); v != "" {
		cfg.ChronosBaseURL = v
	}
	if v := os.Getenv("STORE_ADDRS"); v != "" {
		cfg.StoreAddrs = parseList(v)
	}
	if v := os.Getenv("REMOTE_STORE_ADDR"); v != "" {
		cfg.RemoteStoreAddr = v
	}
}

func parseList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getPrimaryInterfaceIP detects a non-loopback IPv4 address to advertise.
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
