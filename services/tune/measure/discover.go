// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package measure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var (
	optimizerRe   = regexp.MustCompile(`(?m)^  (-f[a-z0-9-]+) `)
	enabledRe     = regexp.MustCompile(`(?m)^  (-f[a-z0-9-]+)\s+\[enabled\]`)
	paramNameRe   = regexp.MustCompile(`(?m)^  --param=([a-z0-9-]+)`)
	legacyParamRe = regexp.MustCompile(`(?m)^  ([a-z-]+)`)
	paramRangeRe  = regexp.MustCompile(`(?m)^  --param=([a-z0-9-]+)=<(-?[0-9]+),(-?[0-9]+)>\s+(-?[0-9]+)`)
	versionRe     = regexp.MustCompile(`([0-9]+)[.]([0-9]+)[.]([0-9]+)`)
	defparamRe    = regexp.MustCompile(`DEFPARAM *\((([^")]|"[^"]*")*)\)`)
)

// Version is a compiler version triple.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ParseVersion extracts the first major.minor.patch triple.
func ParseVersion(text string) (Version, error) {
	m := versionRe.FindStringSubmatch(text)
	if m == nil {
		return Version{}, errors.New("no version number found")
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// ParseOptimizers returns the -f flags listed by --help=optimizers.
func ParseOptimizers(help string) []string {
	return submatches(optimizerRe, help)
}

// ParseEnabledOptimizers returns the flags marked [enabled] by
// -Q <level> --help=optimizers.
func ParseEnabledOptimizers(help string) []string {
	return submatches(enabledRe, help)
}

// ParseParamNames returns the parameter names listed by --help=params.
// Drivers before major version 10 print bare names.
func ParseParamNames(help string, major int) []string {
	if major < 10 {
		return submatches(legacyParamRe, help)
	}
	return submatches(paramNameRe, help)
}

// ParseParamRanges reads -Q --help=params output of drivers that print
// "--param=name=<min,max>  default". Entries without a range are skipped.
func ParseParamRanges(help string) []Parameter {
	var params []Parameter
	for _, m := range paramRangeRe.FindAllStringSubmatch(help, -1) {
		lo, err1 := strconv.Atoi(m[2])
		hi, err2 := strconv.Atoi(m[3])
		def, err3 := strconv.Atoi(m[4])
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		params = append(params, Parameter{Name: m[1], Min: lo, Max: hi, Default: def})
	}
	return params
}

// paramsDefMacros are the constant expressions of params.def that are not
// plain integers.
var paramsDefMacros = strings.NewReplacer(
	"GGC_MIN_EXPAND_DEFAULT", "30",
	"GGC_MIN_HEAPSIZE_DEFAULT", "4096",
	"50 * 1024 * 1024", "52428800",
	"128 * 1024 * 1024", "134217728",
	"INT_MAX", "2147483647",
)

// ParseParamsDef parses DEFPARAM(id, "name", "desc", default, min, max)
// entries. A max of 0 means unbounded and becomes min(default*10, INT_MAX).
func ParseParamsDef(content string) ([]Parameter, error) {
	var params []Parameter
	for _, m := range defparamRe.FindAllStringSubmatch(content, -1) {
		fields := splitArgs(paramsDefMacros.Replace(m[1]))
		if len(fields) != 6 {
			return nil, fmt.Errorf("malformed DEFPARAM(%s)", m[1])
		}
		name := unquote(fields[1])
		nums := make([]int, 3)
		for i, f := range fields[3:] {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("DEFPARAM %s: %w", name, err)
			}
			nums[i] = v
		}
		p := Parameter{Name: name, Default: nums[0], Min: nums[1], Max: nums[2]}
		if p.Max == 0 {
			p.Max = int(math.Min(float64(p.Default)*10, math.MaxInt32))
		}
		params = append(params, p)
	}
	return params, nil
}

// CandidateFlags returns all minus enabled minus exclude, in the order of all.
func CandidateFlags(all, enabled, exclude []string) []string {
	skip := make(map[string]struct{}, len(enabled)+len(exclude))
	for _, f := range enabled {
		skip[f] = struct{}{}
	}
	for _, f := range exclude {
		skip[f] = struct{}{}
	}
	var out []string
	seen := make(map[string]struct{}, len(all))
	for _, f := range all {
		if _, ok := skip[f]; ok {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// -----------------------------------------------------------------------------
// Discoverer
// -----------------------------------------------------------------------------

// Discoverer queries a GCC-compatible driver for its tunables.
type Discoverer struct {
	cc     string
	runner Runner
}

// NewDiscoverer creates a Discoverer for cc.
func NewDiscoverer(cc string, runner Runner) *Discoverer {
	if runner == nil {
		runner = NewExecRunner(DefaultTimeout)
	}
	return &Discoverer{cc: cc, runner: runner}
}

// Version runs cc --version.
func (d *Discoverer) Version(ctx context.Context) (Version, error) {
	out, err := d.runner.Run(ctx, d.cc, "--version")
	if err != nil {
		return Version{}, fmt.Errorf("query version: %w", err)
	}
	return ParseVersion(string(out.Stdout))
}

// Flags returns the candidate flags for base: everything the driver lists
// minus what base already enables minus exclude.
func (d *Discoverer) Flags(ctx context.Context, base string, exclude []string) ([]string, error) {
	all, err := d.runner.Run(ctx, d.cc, "--help=optimizers")
	if err != nil {
		return nil, fmt.Errorf("list optimizers: %w", err)
	}
	args := append([]string{"-Q"}, strings.Fields(base)...)
	args = append(args, "--help=optimizers")
	enabled, err := d.runner.Run(ctx, d.cc, args...)
	if err != nil {
		return nil, fmt.Errorf("list enabled optimizers: %w", err)
	}
	return CandidateFlags(ParseOptimizers(string(all.Stdout)), ParseEnabledOptimizers(string(enabled.Stdout)), exclude), nil
}

// Parameters returns the tunable parameters with their domains.
//
// With paramsDef set, domains come from that params.def file and are kept
// only for names the driver lists. Otherwise they are read from the
// driver's -Q --help=params ranges.
func (d *Discoverer) Parameters(ctx context.Context, paramsDef string) ([]Parameter, error) {
	if paramsDef == "" {
		out, err := d.runner.Run(ctx, d.cc, "-Q", "--help=params")
		if err != nil {
			return nil, fmt.Errorf("list parameters: %w", err)
		}
		return validParams(ParseParamRanges(string(out.Stdout))), nil
	}

	ver, err := d.Version(ctx)
	if err != nil {
		return nil, err
	}
	out, err := d.runner.Run(ctx, d.cc, "--help=params")
	if err != nil {
		return nil, fmt.Errorf("list parameters: %w", err)
	}
	names := make(map[string]struct{})
	for _, n := range ParseParamNames(string(out.Stdout), ver.Major) {
		names[n] = struct{}{}
	}

	content, err := os.ReadFile(paramsDef)
	if err != nil {
		return nil, fmt.Errorf("read params definition: %w", err)
	}
	defs, err := ParseParamsDef(string(content))
	if err != nil {
		return nil, err
	}
	var params []Parameter
	for _, p := range defs {
		if _, ok := names[p.Name]; ok {
			params = append(params, p)
		}
	}
	return validParams(params), nil
}

// validParams drops entries whose domain is empty or inconsistent.
func validParams(params []Parameter) []Parameter {
	out := params[:0]
	for _, p := range params {
		if p.Validate() == nil && p.Min < p.Max {
			out = append(out, p)
		}
	}
	return out
}

func submatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// splitArgs splits a macro argument list on commas outside string
// literals. Adjacent literals are concatenated.
func splitArgs(s string) []string {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
	)
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ',' && !quoted:
			fields = append(fields, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, strings.TrimSpace(cur.String()))
}

// unquote joins the string literals of a field: `"a" "b"` becomes "ab".
func unquote(field string) string {
	var b strings.Builder
	quoted := false
	for _, r := range field {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if quoted {
			b.WriteRune(r)
		}
	}
	return b.String()
}
