// Package zone loads the initial record set from zone files in YAML, JSON or
// TOML. A zone file names its apex in zone_root and holds one table per owner
// label mapping record types to a value or a list of values:
//
//	zone_root: example.com
//	ttl: 600
//	"@":
//	  A: 192.0.2.1
//	www:
//	  CNAME: example.com
//	"*.dev":
//	  A: [192.0.2.10, 192.0.2.11]
package zone

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/dnscore/internal/dns/common/utils"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/gateways/wire"
)

const (
	keyZoneRoot = "zone_root"
	keyTTL      = "ttl"
	// owner names contain dots, so koanf must split keys on something else
	keyDelim = "/"
)

// LoadZoneDirectory walks dir and loads every supported zone file, returning
// records grouped by zone root. Files with other extensions are ignored; any
// file that fails to parse fails the whole load.
func LoadZoneDirectory(dir string, defaultTTL time.Duration) (map[string][]domain.Record, error) {
	zones := make(map[string][]domain.Record)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		zoneRoot, zoneRecords, err := loadZoneFileWithRoot(path, defaultTTL)
		if err != nil {
			return fmt.Errorf("error parsing zone file %s: %w", path, err)
		}
		if zoneRoot != "" && len(zoneRecords) > 0 {
			zones[zoneRoot] = append(zones[zoneRoot], zoneRecords...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return zones, nil
}

// LoadRecords is LoadZoneDirectory flattened into one list ordered by zone root.
func LoadRecords(dir string, defaultTTL time.Duration) ([]domain.Record, error) {
	zones, err := LoadZoneDirectory(dir, defaultTTL)
	if err != nil {
		return nil, err
	}
	roots := make([]string, 0, len(zones))
	for root := range zones {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var out []domain.Record
	for _, root := range roots {
		out = append(out, zones[root]...)
	}
	return out, nil
}

// expandName returns the owner name for a label: '@' is the zone root, a
// label ending in '.' is already absolute, anything else is relative to root.
func expandName(label, root string) string {
	if label == "@" {
		return root
	}
	if strings.HasSuffix(label, ".") {
		return label
	}
	return label + "." + root
}

// toStringValues converts a parsed value (a scalar or a list) into trimmed,
// non-empty strings. Numbers are accepted so TOML and YAML authors need not
// quote numeric TXT values.
func toStringValues(val any) []string {
	switch v := val.(type) {
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil
		}
		return []string{s}
	case int, int64, float64:
		return []string{fmt.Sprint(v)}
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			out = append(out, toStringValues(elem)...)
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}

// buildRecords creates one record per value for the owner fqdn.
func buildRecords(fqdn string, rrType string, values []string, ttl int) ([]domain.Record, error) {
	t, err := domain.ParseRRType(rrType)
	if err != nil {
		return nil, err
	}
	records := make([]domain.Record, 0, len(values))
	for _, s := range values {
		if err := wire.ValidateValue(t, s); err != nil {
			return nil, fmt.Errorf("%s %s: %w", fqdn, t, err)
		}
		r, err := domain.NewRecord(fqdn, t, s, ttl)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// zoneTTL returns the file's ttl key in seconds, else defaultTTL.
func zoneTTL(k *koanf.Koanf, defaultTTL time.Duration) (int, error) {
	if !k.Exists(keyTTL) {
		return int(defaultTTL.Seconds()), nil
	}
	ttl := k.Int(keyTTL)
	if ttl <= 0 {
		return 0, fmt.Errorf("zone ttl must be a positive number of seconds, got %v", k.Get(keyTTL))
	}
	return ttl, nil
}

// loadZoneFileWithRoot loads and parses a single zone file, returning both
// the zone root and its records. Unsupported extensions yield no root.
func loadZoneFileWithRoot(path string, defaultTTL time.Duration) (string, []domain.Record, error) {
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	case ".toml":
		parser = toml.Parser()
	default:
		return "", nil, nil
	}

	k := koanf.New(keyDelim)
	if err := k.Load(file.Provider(path), parser); err != nil {
		return "", nil, fmt.Errorf("failed to load zone file %s: %w", path, err)
	}

	root := utils.CanonicalDNSName(k.String(keyZoneRoot))
	if root == "" {
		return "", nil, fmt.Errorf("zone file %s missing '%s'", path, keyZoneRoot)
	}
	ttl, err := zoneTTL(k, defaultTTL)
	if err != nil {
		return "", nil, fmt.Errorf("zone file %s: %w", path, err)
	}

	raw := k.Raw()
	owners := make([]string, 0, len(raw))
	for name := range raw {
		if name != keyZoneRoot && name != keyTTL {
			owners = append(owners, name)
		}
	}
	sort.Strings(owners)

	var records []domain.Record
	for _, name := range owners {
		rawMap, ok := raw[name].(map[string]any)
		if !ok {
			continue
		}
		fqdn := utils.CanonicalDNSName(expandName(name, root))
		types := make([]string, 0, len(rawMap))
		for rrType := range rawMap {
			types = append(types, rrType)
		}
		sort.Strings(types)
		for _, rrType := range types {
			values := toStringValues(rawMap[rrType])
			if len(values) == 0 {
				continue
			}
			recs, err := buildRecords(fqdn, rrType, values, ttl)
			if err != nil {
				return "", nil, fmt.Errorf("invalid record in %s: %w", path, err)
			}
			records = append(records, recs...)
		}
	}
	return root, records, nil
}

// loadZoneFile loads a single zone file and returns its records.
func loadZoneFile(path string, defaultTTL time.Duration) ([]domain.Record, error) {
	_, records, err := loadZoneFileWithRoot(path, defaultTTL)
	return records, err
}
