package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hyperjump/tabdoc/internal/tagmap"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with any of the recognized environment variables that are set.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []string
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s must be an integer, got %q", key, v))
			return
		}
		*dst = n
	}

	str("DATA_CSV", &cfg.Data.Path)
	str("DATA_SHEET", &cfg.Data.Sheet)
	str("ID_COLUMN", &cfg.Layout.IDColumn)
	str("ROOT_TAG", &cfg.Layout.RootTag)
	str("ITEM_TAG", &cfg.Layout.ItemTag)
	str("ID_ATTR", &cfg.Layout.IDAttr)
	str("XPATH_QUERY", &cfg.Layout.Query)
	num("MAX_ROWS", &cfg.Layout.MaxRows)
	num("CHUNK_SIZE", &cfg.Layout.ChunkSize)
	str("XML_PATH", &cfg.Document.XMLPath)
	str("XSD_PATH", &cfg.Document.XSDPath)
	str("HISTORY_PATH", &cfg.History.DatabasePath)
	str("RPC_HOST", &cfg.RPC.Host)
	num("RPC_PORT", &cfg.RPC.Port)
	str("XMLRPC_HOST", &cfg.XMLRPC.Host)
	num("XMLRPC_PORT", &cfg.XMLRPC.Port)

	if v, ok := lookup("DEBUG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DEBUG must be a boolean, got %q", v))
		} else {
			cfg.Debug = b
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.Layout.MaxRows < 0 {
		errs = append(errs, fmt.Sprintf("max_rows (%d) must not be negative", c.Layout.MaxRows))
	}
	if c.Layout.ChunkSize < 0 {
		errs = append(errs, fmt.Sprintf("chunk_size (%d) must not be negative", c.Layout.ChunkSize))
	}
	for _, t := range []struct{ name, tag string }{
		{"root_tag", c.Layout.RootTag},
		{"item_tag", c.Layout.ItemTag},
		{"id_attr", c.Layout.IDAttr},
	} {
		if t.tag != "" && !tagmap.Valid(t.tag) {
			errs = append(errs, fmt.Sprintf("%s %q is not a valid XML name", t.name, t.tag))
		}
	}
	for _, srv := range []struct {
		name string
		cfg  ServerConfig
	}{{"rpc", c.RPC}, {"xmlrpc", c.XMLRPC}} {
		if srv.cfg.Port < 1 || srv.cfg.Port > 65535 {
			errs = append(errs, fmt.Sprintf("%s port (%d) must be 1-65535", srv.name, srv.cfg.Port))
		}
		if srv.cfg.MaxMessageBytes < 0 {
			errs = append(errs, fmt.Sprintf("%s max_message_bytes must not be negative", srv.name))
		}
	}
	if c.RPC.Workers < 0 || c.RPC.QueueSize < 0 || c.RPC.QueueWait < 0 {
		errs = append(errs, "rpc workers, queue_size and queue_wait must not be negative")
	}
	if c.Document.XMLPath == "" {
		errs = append(errs, "document xml_path is required")
	}
	if d := []rune(c.Data.Delimiter); len(d) > 1 || (len(d) == 1 && (d[0] == '\n' || d[0] == '\r' || d[0] == '"')) {
		errs = append(errs, fmt.Sprintf("data delimiter %q must be a single character other than quote or newline", c.Data.Delimiter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
