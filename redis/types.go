package redis

// Job asks a worker to analyze one commit.
type Job struct {
	Owner   string `json:"owner"`
	Project string `json:"project"`
	SHA     string `json:"sha"`
}

// VulnCommit is a verified vulnerability fix from the vulnerability
// database.
type VulnCommit struct {
	Owner     string `json:"owner"`
	Project   string `json:"project"`
	SHA       string `json:"sha"`
	ParentSHA string `json:"sha-p"`
	Language  string `json:"language"`
	Pattern   string `json:"pattern"`
	Year      string `json:"year"`
	Reported  bool   `json:"reported"`
}

const (
	vulnClassesKey = "vulns_class"
	commitPattern  = "commit:*:*:*:*"
)

// commitFields are read from every commit:* hash, in this order.
var commitFields = []string{"vuln?", "sha", "sha-p", "repo_owner", "repo_name", "lang", "class", "change_to", "year"}
