package keywords

// technicalTerms are short tokens that are always kept regardless of length
// or stop-word status. The set is fixed.
var technicalTerms = map[string]struct{}{
	"ssh": {}, "api": {}, "rpc": {}, "ftp": {}, "dns": {}, "url": {},
	"sql": {}, "xss": {}, "ssl": {}, "tls": {}, "vpn": {}, "smb": {},
	"cmd": {}, "exe": {}, "dll": {}, "tcp": {}, "udp": {}, "icmp": {},
	"http": {}, "apt": {}, "pdf": {}, "xls": {}, "csv": {}, "doc": {},
	"ppt": {}, "zip": {}, "rar": {}, "tar": {}, "git": {}, "php": {},
	"pem": {}, "crt": {}, "key": {}, "log": {}, "mac": {}, "ip": {},
	"os": {},
}

// stopWords are common English function words excluded from single-token
// keywords and limited inside n-grams. The set is fixed.
var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "above": {}, "after": {}, "again": {},
	"against": {}, "all": {}, "am": {}, "an": {}, "and": {}, "any": {},
	"are": {}, "as": {}, "at": {}, "be": {}, "because": {}, "been": {},
	"before": {}, "being": {}, "below": {}, "between": {}, "both": {},
	"but": {}, "by": {}, "can": {}, "did": {}, "do": {}, "does": {},
	"doing": {}, "down": {}, "during": {}, "each": {}, "few": {},
	"for": {}, "from": {}, "further": {}, "had": {}, "has": {},
	"have": {}, "having": {}, "he": {}, "her": {}, "here": {},
	"hers": {}, "him": {}, "his": {}, "how": {}, "i": {}, "if": {},
	"in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "just": {},
	"may": {}, "me": {}, "more": {}, "most": {}, "my": {}, "no": {},
	"nor": {}, "not": {}, "now": {}, "of": {}, "off": {}, "on": {},
	"once": {}, "only": {}, "or": {}, "other": {}, "our": {}, "out": {},
	"over": {}, "own": {}, "same": {}, "she": {}, "should": {}, "so": {},
	"some": {}, "such": {}, "than": {}, "that": {}, "the": {},
	"their": {}, "them": {}, "then": {}, "there": {}, "these": {},
	"they": {}, "this": {}, "those": {}, "through": {}, "to": {},
	"too": {}, "under": {}, "until": {}, "up": {}, "very": {},
	"was": {}, "we": {}, "were": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "while": {}, "who": {}, "why": {},
	"will": {}, "with": {}, "you": {}, "your": {},
}

// synonymMap maps cybersecurity canonical terms to their synonyms. The map
// is fixed; expansion adds synonyms for matched canonical terms and
// canonical terms for matched synonyms.
var synonymMap = map[string][]string{
	"malware":              {"virus", "trojan", "ransomware", "worm", "spyware", "rootkit"},
	"phishing":             {"spearphishing", "whaling", "smishing", "vishing"},
	"credential":           {"password", "credentials", "passwords", "login"},
	"exfiltration":         {"exfil", "data theft", "data transfer"},
	"lateral movement":     {"pivoting", "island hopping"},
	"privilege escalation": {"privesc", "elevation of privilege"},
	"command and control":  {"c2", "command-and-control", "beaconing"},
	"persistence":          {"backdoor", "implant"},
	"reconnaissance":       {"recon", "scanning", "enumeration"},
	"injection":            {"sql injection", "code injection", "command injection"},
	"encryption":           {"encrypt", "cipher", "cryptography"},
	"exploit":              {"exploitation", "vulnerability", "cve"},
	"brute force":          {"password spraying", "credential stuffing", "dictionary attack"},
}

// synonymReverse maps each synonym back to its canonical terms.
var synonymReverse = buildReverse()

func buildReverse() map[string][]string {
	rev := make(map[string][]string)
	for canonical, syns := range synonymMap {
		for _, s := range syns {
			rev[s] = append(rev[s], canonical)
		}
	}
	return rev
}

// IsTechnicalTerm reports whether tok is in the fixed technical-term set.
func IsTechnicalTerm(tok string) bool {
	_, ok := technicalTerms[tok]
	return ok
}

// IsStopWord reports whether tok is in the fixed stop-word set.
func IsStopWord(tok string) bool {
	_, ok := stopWords[tok]
	return ok
}
