package config

import "time"

const (
	DefaultRPCPort         = 50051
	DefaultXMLRPCPort      = 8000
	DefaultWorkers         = 10
	DefaultMaxMessageBytes = 200 << 20
	DefaultQueueSize       = 100

	DefaultQueueWait       = 5 * time.Second
	DefaultRequestTimeout  = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Document.XMLPath == "" {
		cfg.Document.XMLPath = "document.xml"
	}
	if cfg.Document.XSDPath == "" {
		cfg.Document.XSDPath = "document.xsd"
	}
	if cfg.Data.Delimiter == "" {
		cfg.Data.Delimiter = ","
	}
	applyServerDefaults(&cfg.RPC, "0.0.0.0", DefaultRPCPort)
	applyServerDefaults(&cfg.XMLRPC, "0.0.0.0", DefaultXMLRPCPort)
	if cfg.RPC.Workers == 0 {
		cfg.RPC.Workers = DefaultWorkers
	}
	if cfg.RPC.QueueSize == 0 {
		cfg.RPC.QueueSize = DefaultQueueSize
	}
	if cfg.RPC.QueueWait == 0 {
		cfg.RPC.QueueWait = DefaultQueueWait
	}
}

func applyServerDefaults(s *ServerConfig, host string, port int) {
	if s.Host == "" {
		s.Host = host
	}
	if s.Port == 0 {
		s.Port = port
	}
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if s.RequestTimeout == 0 {
		s.RequestTimeout = DefaultRequestTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
}
