package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/secfix-research/maintscan/dataset"
)

const (
	// MinGroupSize is the smallest group reported on its own; smaller ones
	// are folded into a catch-all group.
	MinGroupSize = 20

	OtherGroup   = "Other"
	MiscGroup    = "MISC"
	UnknownGroup = "UNKNOWN"
)

// Guideline pairs a BetterCodeHub guideline with its short label.
type Guideline struct {
	Name  string
	Short string
}

// Guidelines lists the scored guidelines in report order.
var Guidelines = []Guideline{
	{"Write Short Units of Code", "WShortUC"},
	{"Write Simple Units of Code", "WSimpleUC"},
	{"Write Code Once", "WCO"},
	{"Keep Unit Interfaces Small", "KUIS"},
	{"Separate Concerns in Modules", "SCM"},
	{"Couple Architecture Components Loosely", "CACL"},
	{"Keep Architecture Components Balanced", "KACB"},
	{"Write Clean Code", "WCC"},
}

// Severities are the CVSS levels, lowest first.
var Severities = []string{"LOW", "MEDIUM", "HIGH"}

// languageGroups maps file extensions and language names to the groups
// used in the language report.
var languageGroups = map[string][]string{
	"Java":            {"java", "scala", "Java", "Scala"},
	"Python":          {"py", "Python"},
	"Groovy":          {"groovy", "Groovy"},
	"JavaScript":      {"js", "JavaScript"},
	"PHP":             {"ctp", "php", "inc", "tpl", "PHP", "Smarty"},
	"Objective-C/C++": {"m", "mm", "Objective-C", "Objective-C++"},
	"Ruby":            {"rb", "Ruby"},
	"C/C++":           {"cpp", "cc", "h", "c", "C", "C++"},
	"Config. Files": {
		"template", "gemspec", "VERSION", "Gemfile", "classpath", "gradle",
		"json", "xml", "bash", "lock", "JSON", "XML", "Shell", "Gradle",
	},
}

var languageIndex = func() map[string]string {
	idx := map[string]string{}
	for group, keys := range languageGroups {
		for _, k := range keys {
			idx[k] = group
		}
	}
	return idx
}()

// LanguageGroup returns the group of a Language cell. Cells listing
// several languages map to a group only when all of them agree; otherwise
// the cell is returned unchanged.
func LanguageGroup(value string) string {
	group := ""
	for _, part := range strings.Split(value, ";") {
		g, ok := languageIndex[strings.TrimSpace(part)]
		if !ok || (group != "" && g != group) {
			return value
		}
		group = g
	}
	return group
}

// Composites groups CWE identifiers under a parent CWE.
type Composites struct {
	order  []string
	member map[string]string
}

// ReadComposites loads a composites file: one group per line, the group
// name followed by its members, all tab separated. Members may also be
// given as a single comma separated field.
func ReadComposites(path string) (*Composites, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := ParseComposites(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return c, nil
}

func ParseComposites(r io.Reader) (*Composites, error) {
	c := &Composites{member: map[string]string{}}
	defined := map[string]bool{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		group := strings.TrimSpace(fields[0])
		if defined[group] {
			// first definition wins
			continue
		}
		defined[group] = true
		c.order = append(c.order, group)
		c.member[group] = group
		for _, f := range fields[1:] {
			for _, m := range strings.Split(f, ",") {
				if m = strings.TrimSpace(m); m != "" {
					if _, ok := c.member[m]; !ok {
						c.member[m] = group
					}
				}
			}
		}
	}
	return c, sc.Err()
}

// Group returns the composite a CWE belongs to.
func (c *Composites) Group(cwe string) (string, bool) {
	g, ok := c.member[strings.TrimSpace(cwe)]
	return g, ok
}

func (c *Composites) Groups() []string { return append([]string(nil), c.order...) }

// foldSmallGroups keeps the values of col seen in at least MinGroupSize
// rows, in order of first appearance, and rewrites every other row to
// other. The catch-all group comes first.
func foldSmallGroups(t *dataset.Table, col, other string) []string {
	counts := map[string]int{}
	var seen []string
	for i := 0; i < t.Len(); i++ {
		v := t.Get(i, col)
		if counts[v] == 0 {
			seen = append(seen, v)
		}
		counts[v]++
	}
	keep := map[string]bool{}
	groups := []string{other}
	for _, v := range seen {
		if v != "" && v != other && counts[v] >= MinGroupSize {
			keep[v] = true
			groups = append(groups, v)
		}
	}
	foldInto(t, col, keep, other)
	return groups
}

// foldInto rewrites col to other for every row whose value is not kept.
func foldInto(t *dataset.Table, col string, keep map[string]bool, other string) {
	for i := 0; i < t.Len(); i++ {
		if !keep[t.Get(i, col)] {
			t.Set(i, col, other)
		}
	}
}
