package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"intake/internal/config"
	"intake/internal/filter"
	"intake/internal/route"
	"intake/internal/services"
)

// Verdict labels used in simulation output.
const (
	VerdictRun      = "RUN"
	VerdictExcluded = "EXCLUDED"
	VerdictSkipped  = "SKIPPED"
	VerdictGlobal   = "GLOBAL"
)

const (
	sampleDatabase = "SampleDB"
	sampleFile     = "test.pdf"
)

// StepVerdict is the simulated decision for one step.
type StepVerdict struct {
	Step    string
	Verdict string
	Reason  string
}

// Evaluation is the simulated treatment of one relative path.
type Evaluation struct {
	Path          string
	GlobalExclude string
	Route         route.Descriptor
	RouteErr      error
	Steps         []StepVerdict
}

// GloballyExcluded reports whether a global exclude pattern matched.
func (e Evaluation) GloballyExcluded() bool { return e.GlobalExclude != "" }

// Runs returns the names of steps that would execute.
func (e Evaluation) Runs() []string {
	var out []string
	for _, s := range e.Steps {
		if s.Verdict == VerdictRun {
			out = append(out, s.Step)
		}
	}
	return out
}

// StepNames lists the watcher's enabled steps in declared order.
func StepNames(w config.Watcher) []string {
	var out []string
	for _, s := range w.Pipeline.Steps {
		if s.IsEnabled() {
			out = append(out, s.Name)
		}
	}
	return out
}

// Evaluate applies the watcher's routing, global excludes and step filters
// to each path without touching the filesystem.
func Evaluate(w config.Watcher, paths []string) ([]Evaluation, error) {
	globals, err := filter.CompilePatterns(w.GlobalExcludes())
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "simulate", "compile global_exclude", w.Name, err)
	}
	type namedRule struct {
		name string
		rule *filter.Compiled
	}
	var rules []namedRule
	for _, s := range w.Pipeline.Steps {
		if !s.IsEnabled() {
			continue
		}
		rule, err := filter.Compile(filter.Rule{Include: s.Include, Exclude: s.Exclude})
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "simulate", "compile step filters", s.Name, err)
		}
		rules = append(rules, namedRule{name: s.Name, rule: rule})
	}

	out := make([]Evaluation, 0, len(paths))
	for _, p := range paths {
		ev := Evaluation{Path: p}
		ev.Route, ev.RouteErr = route.Parse(p)
		if pat, ok := filter.FirstMatch(globals, p); ok {
			ev.GlobalExclude = pat.Source
			out = append(out, ev)
			continue
		}
		for _, r := range rules {
			d := r.rule.Evaluate(p)
			ev.Steps = append(ev.Steps, StepVerdict{Step: r.name, Verdict: verdictLabel(d.Verdict), Reason: d.Reason})
		}
		out = append(out, ev)
	}
	return out, nil
}

func verdictLabel(v filter.Verdict) string {
	switch v {
	case filter.Included:
		return VerdictRun
	case filter.Excluded:
		return VerdictExcluded
	default:
		return VerdictSkipped
	}
}

var middleWildcard = regexp.MustCompile(`/\*/`)

// SamplePaths derives representative relative paths from the watcher's
// global excludes and step filters, sorted and without duplicates.
func SamplePaths(w config.Watcher) []string {
	db := sampleDatabaseFor(w)
	seen := map[string]struct{}{}
	add := func(p string) { seen[p] = struct{}{} }

	for _, p := range w.GlobalExclude {
		add(patternExample(p, db))
	}
	for _, s := range w.Pipeline.Steps {
		for _, p := range s.Include {
			add(patternExample(p, db))
		}
		for _, p := range s.Exclude {
			add(patternExample(p, db))
		}
	}
	add("Other Database/" + sampleFile)
	if db != sampleDatabase {
		add(db + "/SampleCourse/" + sampleFile)
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// MergePaths combines generated and user-supplied paths, sorted and unique.
func MergePaths(generated, custom []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, p := range append(append([]string{}, generated...), custom...) {
		if _, ok := seen[p]; ok || strings.TrimSpace(p) == "" {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// sampleDatabaseFor returns the first concrete leading segment among step
// include patterns.
func sampleDatabaseFor(w config.Watcher) string {
	for _, s := range w.Pipeline.Steps {
		for _, p := range s.Include {
			if strings.HasPrefix(p, "*/") {
				continue
			}
			first := strings.SplitN(p, "/", 2)[0]
			if first != "" && !strings.ContainsAny(first, "*?[") {
				return first
			}
		}
	}
	return sampleDatabase
}

// patternExample turns a glob into a path it would match.
func patternExample(pattern, db string) string {
	p := pattern
	if strings.HasPrefix(p, "*/") {
		p = db + "/" + p[2:]
	}
	switch {
	case strings.HasSuffix(p, "/*"):
		p = p[:len(p)-2] + "/" + sampleFile
	case strings.HasSuffix(p, "*"):
		p = p[:len(p)-1] + sampleFile
	}
	p = middleWildcard.ReplaceAllString(p, "/Sample/")
	if !strings.HasSuffix(p, ".pdf") {
		if !strings.HasSuffix(p, "/") {
			p += "/"
		}
		p += sampleFile
	}
	return p
}
