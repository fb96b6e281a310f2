// Package hosts turns /etc/hosts-style files into A and AAAA records.
package hosts

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"unicode"

	logpkg "github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/common/utils"
	"github.com/haukened/dnscore/internal/dns/domain"
)

// ParseHostsFile parses hosts-file lines of the form "IP name [name...]".
//
// Rules:
// - Skip comments (whole-line or inline after '#') and blank lines
// - Lines whose first field is not an IP address are skipped
// - IPv4 addresses yield A records, IPv6 addresses AAAA records
// - Wildcards, names starting with '.', and single-label names are skipped
// - Duplicate (name, address) pairs are dropped, preserving first-seen order
func ParseHostsFile(r io.Reader, source string, ttl int, logger logpkg.Logger) ([]domain.Record, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]domain.Record, 0, 64)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimPrefix(scanner.Text(), "\uFEFF")

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			logger.Debug(map[string]any{"source": source, "line": lineNum}, "hosts_no_hostnames")
			continue
		}

		addr, err := netip.ParseAddr(fields[0])
		if err != nil {
			logger.Debug(map[string]any{"source": source, "line": lineNum, "raw": fields[0]}, "hosts_skip_invalid_ip")
			continue
		}
		addr = addr.Unmap()
		rrType := domain.RRTypeA
		if addr.Is6() {
			rrType = domain.RRTypeAAAA
		}

		for _, raw := range fields[1:] {
			if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
				logger.Debug(map[string]any{"source": source, "line": lineNum, "raw": raw}, "hosts_skip_invalid_token")
				continue
			}
			name := utils.CanonicalDNSName(raw)
			if !isValidFQDN(name) {
				logger.Debug(map[string]any{"source": source, "line": lineNum, "name": name}, "hosts_skip_invalid_fqdn")
				continue
			}

			key := name + "|" + addr.String()
			if _, ok := seen[key]; ok {
				continue
			}
			rec, err := domain.NewRecord(name, rrType, addr.String(), ttl)
			if err != nil {
				logger.Debug(map[string]any{"source": source, "line": lineNum, "name": name, "error": err.Error()}, "hosts_skip_record_error")
				continue
			}
			seen[key] = struct{}{}
			out = append(out, rec)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("hosts: scan %s: %w", source, err)
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}

// LoadFiles parses each file in order and concatenates the records.
func LoadFiles(paths []string, ttl int, logger logpkg.Logger) ([]domain.Record, error) {
	var out []domain.Record
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("hosts: open %s: %w", path, err)
		}
		records, err := ParseHostsFile(f, path, ttl, logger)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// isValidFQDN checks whether the provided string is a usable host name.
// It enforces the following rules:
//   - The total length must not exceed 253 characters.
//   - The name must contain at least two labels.
//   - Each label must be between 1 and 63 characters long.
//   - The first label must start with a letter or number.
func isValidFQDN(name string) bool {
	if len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
	}
	first := []rune(labels[0])
	return unicode.IsLetter(first[0]) || unicode.IsDigit(first[0])
}
