package dataset

import "github.com/secfix-research/maintscan/redis"

// VulnerabilityRows builds the security dataset from the vulnerability
// database export.
func VulnerabilityRows(commits []redis.VulnCommit) *Table {
	t := NewTable(ColOwner, ColProject, ColSHA, ColParent, "language", "pattern", "year", "reported")
	for _, c := range commits {
		reported := "0"
		if c.Reported {
			reported = "1"
		}
		t.AddRow(map[string]string{
			ColOwner:   c.Owner,
			ColProject: c.Project,
			ColSHA:     c.SHA,
			ColParent:  c.ParentSHA,
			"language": c.Language,
			"pattern":  c.Pattern,
			"year":     c.Year,
			"reported": reported,
		})
	}
	return t
}
