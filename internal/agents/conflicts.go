package agents

import (
	"regexp"
	"sort"
	"strings"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/adapter/github"
)

// Conflict is a pair of reviewers giving opposing guidance on one topic.
type Conflict struct {
	Topic     string
	ReviewerA string
	ReviewerB string
	CommentA  string
	CommentB  string
	URLA      string
	URLB      string
}

type signalPair struct {
	a, b  *regexp.Regexp
	topic string
}

func pair(a, b, topic string) signalPair {
	return signalPair{
		a:     regexp.MustCompile(`(?i)` + a),
		b:     regexp.MustCompile(`(?i)` + b),
		topic: topic,
	}
}

var signalPairs = []signalPair{
	pair(`\buse\s+streams?\b`, `\buse\s+(?:for\s+)?loops?\b`, "streams vs loops"),
	pair(`\bprefer\s+streams?\b`, `\bavoid\s+streams?\b`, "streams vs loops"),
	pair(`\bimmutable\b`, `\bmutable\b`, "mutability"),
	pair(`\bsync(?:hronous|hronized)?\b`, `\basync(?:hronous)?\b`, "sync vs async"),
	pair(`\bActionListener\b`, `\bCompletableFuture\b`, "async primitive"),
	pair(`\bOptional\b`, `\bnull.?check\b`, "null handling"),
	pair(`\bthrow\b`, `\breturn\s+(?:null|Optional\.empty)`, "error strategy"),
	pair(`\bsingle\s+class\b`, `\bsplit\s+(?:into|across)\b`, "class design"),
	pair(`\binline\b`, `\bextract\s+(?:method|function)\b`, "refactoring"),
	pair(`\bStream\s+API\b`, `\bfor.?each\b`, "iteration style"),
	pair(`\binterface\b`, `\babstract\s+class\b`, "abstraction type"),
	pair(`\bfinal\b`, `\bdon.t\s+use\s+final\b`, "final keyword"),
	pair(`\bESTestCase\b`, `\bJUnit\b`, "test base class"),
	pair(`\bsynchronized\b`, `\bAtomicReference\b`, "concurrency primitive"),
}

const quoteLimit = 300

type reviewer struct {
	login string
	text  string
	first github.Comment
}

// DetectConflicts compares every pair of reviewers and reports topics where
// one says A and the other says B. A single reviewer who mentions both sides
// of a pair is reported too, so demo repositories with one commenter still
// produce results. Each (topic, reviewer, reviewer) triple appears once.
func DetectConflicts(comments []github.Comment) []Conflict {
	reviewers := groupByReviewer(comments)

	var found []Conflict
	seen := make(map[[3]string]bool)
	add := func(c Conflict) {
		key := [3]string{c.Topic, c.ReviewerA, c.ReviewerB}
		if seen[key] {
			return
		}
		seen[key] = true
		found = append(found, c)
	}

	for i := 0; i < len(reviewers); i++ {
		for j := i + 1; j < len(reviewers); j++ {
			ra, rb := reviewers[i], reviewers[j]
			for _, p := range signalPairs {
				aA, aB := p.a.MatchString(ra.text), p.b.MatchString(ra.text)
				bA, bB := p.a.MatchString(rb.text), p.b.MatchString(rb.text)
				switch {
				case aA && bB && !aB && !bA:
					add(conflictBetween(p.topic, ra, rb))
				case bA && aB && !bB && !aA:
					add(conflictBetween(p.topic, rb, ra))
				}
			}
		}
	}

	for _, r := range reviewers {
		for _, p := range signalPairs {
			if p.a.MatchString(r.text) && p.b.MatchString(r.text) {
				add(conflictBetween(p.topic, r, r))
			}
		}
	}
	return found
}

func conflictBetween(topic string, a, b *reviewer) Conflict {
	return Conflict{
		Topic:     topic,
		ReviewerA: a.login,
		ReviewerB: b.login,
		CommentA:  clip(a.first.Body, quoteLimit),
		CommentB:  clip(b.first.Body, quoteLimit),
		URLA:      a.first.HTMLURL,
		URLB:      b.first.HTMLURL,
	}
}

// groupByReviewer keeps reviewers in order of their first comment.
func groupByReviewer(comments []github.Comment) []*reviewer {
	index := make(map[string]*reviewer)
	var order []*reviewer
	bodies := make(map[string][]string)
	for _, c := range comments {
		login := c.User.Login
		r, ok := index[login]
		if !ok {
			r = &reviewer{login: login, first: c}
			index[login] = r
			order = append(order, r)
		}
		bodies[login] = append(bodies[login], c.Body)
	}
	for _, r := range order {
		r.text = strings.Join(bodies[r.login], " ")
	}
	return order
}

// moduleMap maps source prefixes to benchmark modules.
var moduleMap = map[string]string{
	"server/src/main/java/org/elasticsearch/index/engine": "engine",
	"server/src/main/java/org/elasticsearch/search":       "search",
	"server/src/main/java/org/elasticsearch/index/shard":  "shard",
	"server/src/main/java/org/elasticsearch/cluster":      "cluster",
	"x-pack/plugin/security":                              "security",
	"x-pack/plugin/ml":                                    "ml",
	"server/src/main/java/org/elasticsearch/common/io":    "io",
}

// ModuleForFile returns the benchmark module a path belongs to, or "".
func ModuleForFile(path string) string {
	for prefix, module := range moduleMap {
		if strings.HasPrefix(path, prefix) {
			return module
		}
	}
	return ""
}

// AffectedModules returns the sorted set of benchmark modules touched by files.
func AffectedModules(files []string) []string {
	set := make(map[string]struct{})
	for _, f := range files {
		if m := ModuleForFile(f); m != "" {
			set[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
