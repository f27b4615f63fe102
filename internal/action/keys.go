package action

import (
	"path"
	"strings"
)

// Keys selects a set of pipes by connector/metric/location/instance
// glob patterns and tags, per spec section 6: "-c, -m, -l, -i, -t (tags),
// each accepting globs and negation with a leading _".
type Keys struct {
	Connectors []string
	Metrics    []string
	Locations  []string
	Instances  []string
	Tags       []string
}

// pattern is a single glob-or-negated-glob match clause.
type pattern struct {
	negate bool
	glob   string
}

func parsePatterns(raw []string) []pattern {
	patterns := make([]pattern, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if strings.HasPrefix(r, "_") {
			patterns = append(patterns, pattern{negate: true, glob: r[1:]})
			continue
		}
		patterns = append(patterns, pattern{glob: r})
	}
	return patterns
}

// matchAny reports whether value matches at least one positive pattern
// (or there are no positive patterns) and matches no negative pattern.
func matchAny(patterns []pattern, value string) bool {
	hasPositive := false
	matchedPositive := false
	for _, p := range patterns {
		ok, _ := path.Match(p.glob, value)
		if p.negate {
			if ok {
				return false
			}
			continue
		}
		hasPositive = true
		if ok {
			matchedPositive = true
		}
	}
	if !hasPositive {
		return true
	}
	return matchedPositive
}

// MatchConnector reports whether connector matches the keys' connector patterns.
func (k Keys) MatchConnector(connector string) bool {
	return matchAny(parsePatterns(k.Connectors), connector)
}

// MatchMetric reports whether metric matches the keys' metric patterns.
func (k Keys) MatchMetric(metric string) bool {
	return matchAny(parsePatterns(k.Metrics), metric)
}

// MatchLocation reports whether location matches the keys' location patterns.
// An empty location ("") is the default/no-location pipe.
func (k Keys) MatchLocation(location string) bool {
	return matchAny(parsePatterns(k.Locations), location)
}

// MatchInstance reports whether instance matches the keys' instance patterns.
func (k Keys) MatchInstance(instance string) bool {
	return matchAny(parsePatterns(k.Instances), instance)
}

// MatchTags reports whether the pipe's tag set satisfies the keys' tag
// filter: every positive tag pattern must be present, no negative tag
// pattern may be present.
func (k Keys) MatchTags(tags []string) bool {
	have := make(map[string]bool, len(tags))
	for _, t := range tags {
		have[t] = true
	}

	patterns := parsePatterns(k.Tags)
	for _, p := range patterns {
		matched := false
		for t := range have {
			if ok, _ := path.Match(p.glob, t); ok {
				matched = true
				break
			}
		}
		if p.negate && matched {
			return false
		}
		if !p.negate && !matched {
			return false
		}
	}
	return true
}

// Empty reports whether no filter clauses were given at all, meaning
// "match everything".
func (k Keys) Empty() bool {
	return len(k.Connectors) == 0 && len(k.Metrics) == 0 &&
		len(k.Locations) == 0 && len(k.Instances) == 0 && len(k.Tags) == 0
}
