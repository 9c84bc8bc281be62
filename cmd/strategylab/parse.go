package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"strategylab/internal/domain"
	"strategylab/internal/scenario"
)

// parseTime accepts a date (2006-01-02) or an RFC 3339 timestamp, in UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad time %q (want YYYY-MM-DD or RFC 3339)", domain.ErrInvalidConfiguration, s)
	}
	return t.UTC(), nil
}

// parseParams turns ["period=10", "multiplier=3"] into a parameter map.
func parseParams(kvs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(kvs))
	for _, kv := range kvs {
		for _, part := range strings.Split(kv, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			k, v, ok := strings.Cut(part, "=")
			if !ok || k == "" {
				return nil, fmt.Errorf("%w: bad param %q (want key=value)", domain.ErrInvalidConfiguration, part)
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: param %s: %v", domain.ErrInvalidConfiguration, k, err)
			}
			out[k] = f
		}
	}
	return out, nil
}

// parseRange parses "name=min:max:step". The range is integer when all three
// bounds are written as integers.
func parseRange(s string) (scenario.ParamRange, error) {
	name, spec, ok := strings.Cut(s, "=")
	parts := strings.Split(spec, ":")
	if !ok || name == "" || len(parts) != 3 {
		return scenario.ParamRange{}, fmt.Errorf("%w: bad range %q (want name=min:max:step)", domain.ErrInvalidConfiguration, s)
	}
	var vals [3]float64
	integer := true
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return scenario.ParamRange{}, fmt.Errorf("%w: range %s: %v", domain.ErrInvalidConfiguration, name, err)
		}
		vals[i] = f
		if _, err := strconv.Atoi(p); err != nil {
			integer = false
		}
	}
	return scenario.ParamRange{Name: name, Min: vals[0], Max: vals[1], Step: vals[2], Integer: integer}, nil
}

// parseVariant parses "name=strategy" or "name=strategy:k=v,k=v".
func parseVariant(s string) (scenario.Variant, error) {
	name, spec, ok := strings.Cut(s, "=")
	if !ok || name == "" || spec == "" {
		return scenario.Variant{}, fmt.Errorf("%w: bad variant %q (want name=strategy[:k=v,...])", domain.ErrInvalidConfiguration, s)
	}
	typ, rest, _ := strings.Cut(spec, ":")
	params, err := parseParams([]string{rest})
	if err != nil {
		return scenario.Variant{}, fmt.Errorf("variant %s: %w", name, err)
	}
	return scenario.Variant{Name: name, Strategy: domain.StrategyParams{Type: typ, Params: params}}, nil
}

// loadRequest reads a scenario request from a YAML file.
func loadRequest(path string) (scenario.Request, error) {
	var req scenario.Request
	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: parsing %s: %v", domain.ErrInvalidConfiguration, path, err)
	}
	return req, nil
}
