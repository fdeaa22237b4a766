// Package mitre maps rule matches onto MITRE ATT&CK techniques and tactics.
package mitre

// ReferenceData is the static technique→tactic lookup consumed by the
// Mapper. Implementations are loaded once at process start and never
// mutated afterward; the builtin table below can be swapped for a full
// ATT&CK dataset without code changes.
type ReferenceData interface {
	// TechniqueName returns the display name for a technique or
	// sub-technique id, or "" when the id is unknown.
	TechniqueName(id string) string
	// TacticsFor returns the tactic names associated with a parent
	// technique id.
	TacticsFor(id string) []string
	// TacticID returns the ATT&CK tactic id (TA####) for a tactic name.
	TacticID(name string) string
	// TacticSeverity returns the base severity for a tactic name.
	TacticSeverity(name string) int
}

// tacticSeverityDefault applies to tactics missing from the severity table.
const tacticSeverityDefault = 50

type techniqueEntry struct {
	name    string
	tactics []string
}

// builtin is a compact synthetic reference table covering the techniques
// the shipped detection rules can emit. Not a full ATT&CK database.
type builtin struct {
	techniques map[string]techniqueEntry
	tacticIDs  map[string]string
	severities map[string]int
}

// Builtin returns the embedded reference table.
func Builtin() ReferenceData { return defaultReference }

var defaultReference = &builtin{
	techniques: map[string]techniqueEntry{
		"T1003":     {"OS Credential Dumping", []string{"Credential Access"}},
		"T1003.001": {"LSASS Memory", nil},
		"T1021":     {"Remote Services", []string{"Lateral Movement"}},
		"T1021.001": {"Remote Desktop Protocol", nil},
		"T1021.004": {"SSH", nil},
		"T1030":     {"Data Transfer Size Limits", []string{"Exfiltration"}},
		"T1041":     {"Exfiltration Over C2 Channel", []string{"Exfiltration"}},
		"T1046":     {"Network Service Discovery", []string{"Discovery"}},
		"T1048":     {"Exfiltration Over Alternative Protocol", []string{"Exfiltration"}},
		"T1053":     {"Scheduled Task/Job", []string{"Execution", "Persistence", "Privilege Escalation"}},
		"T1053.005": {"Scheduled Task", nil},
		"T1055":     {"Process Injection", []string{"Defense Evasion", "Privilege Escalation"}},
		"T1056":     {"Input Capture", []string{"Collection", "Credential Access"}},
		"T1056.001": {"Keylogging", nil},
		"T1059":     {"Command and Scripting Interpreter", []string{"Execution"}},
		"T1059.001": {"PowerShell", nil},
		"T1059.003": {"Windows Command Shell", nil},
		"T1059.004": {"Unix Shell", nil},
		"T1059.006": {"Python", nil},
		"T1068":     {"Exploitation for Privilege Escalation", []string{"Privilege Escalation"}},
		"T1070":     {"Indicator Removal", []string{"Defense Evasion"}},
		"T1070.004": {"File Deletion", nil},
		"T1071":     {"Application Layer Protocol", []string{"Command and Control"}},
		"T1071.001": {"Web Protocols", nil},
		"T1078":     {"Valid Accounts", []string{"Initial Access", "Persistence", "Privilege Escalation", "Defense Evasion"}},
		"T1105":     {"Ingress Tool Transfer", []string{"Command and Control"}},
		"T1110":     {"Brute Force", []string{"Credential Access"}},
		"T1110.001": {"Password Guessing", nil},
		"T1190":     {"Exploit Public-Facing Application", []string{"Initial Access"}},
		"T1195":     {"Supply Chain Compromise", []string{"Initial Access"}},
		"T1195.002": {"Compromise Software Supply Chain", nil},
		"T1485":     {"Data Destruction", []string{"Impact"}},
		"T1486":     {"Data Encrypted for Impact", []string{"Impact"}},
		"T1496":     {"Resource Hijacking", []string{"Impact"}},
		"T1497":     {"Virtualization/Sandbox Evasion", []string{"Defense Evasion", "Discovery"}},
		"T1505":     {"Server Software Component", []string{"Persistence"}},
		"T1505.003": {"Web Shell", nil},
		"T1548":     {"Abuse Elevation Control Mechanism", []string{"Privilege Escalation", "Defense Evasion"}},
		"T1548.003": {"Sudo and Sudo Caching", nil},
		"T1552":     {"Unsecured Credentials", []string{"Credential Access"}},
		"T1552.001": {"Credentials In Files", nil},
		"T1557":     {"Adversary-in-the-Middle", []string{"Credential Access", "Collection"}},
	},
	tacticIDs: map[string]string{
		"Initial Access":       "TA0001",
		"Execution":            "TA0002",
		"Persistence":          "TA0003",
		"Privilege Escalation": "TA0004",
		"Defense Evasion":      "TA0005",
		"Credential Access":    "TA0006",
		"Discovery":            "TA0007",
		"Lateral Movement":     "TA0008",
		"Collection":           "TA0009",
		"Exfiltration":         "TA0010",
		"Command and Control":  "TA0011",
		"Impact":               "TA0040",
	},
	severities: map[string]int{
		"Impact":               95,
		"Exfiltration":         90,
		"Command and Control":  85,
		"Privilege Escalation": 85,
		"Credential Access":    80,
		"Execution":            80,
		"Defense Evasion":      75,
		"Lateral Movement":     70,
		"Initial Access":       70,
		"Collection":           60,
		"Persistence":          60,
		"Discovery":            40,
	},
}

func (b *builtin) TechniqueName(id string) string {
	return b.techniques[id].name
}

func (b *builtin) TacticsFor(id string) []string {
	return b.techniques[id].tactics
}

func (b *builtin) TacticID(name string) string {
	return b.tacticIDs[name]
}

func (b *builtin) TacticSeverity(name string) int {
	if sev, ok := b.severities[name]; ok {
		return sev
	}
	return tacticSeverityDefault
}
