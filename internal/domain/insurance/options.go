package insurance

import "strings"

var insurers = []Option{
	{"STAR", "Star Health Insurance"},
	{"HDFC_ERGO", "HDFC ERGO"},
	{"ICICI_LOMBARD", "ICICI Lombard"},
	{"MAX_BUPA", "Max Bupa"},
	{"BAJAJ", "Bajaj Allianz"},
	{"CARE", "Care Health Insurance"},
	{"NIVA_BUPA", "Niva Bupa"},
	{"MANIPAL_CIGNA", "ManipalCigna"},
	{"SBI", "SBI General Insurance"},
	{"TATA_AIG", "Tata AIG"},
	{"AYUSHMAN", "Ayushman Bharat (PMJAY)"},
	{"CGHS", "CGHS"},
	{"ESIC", "ESIC"},
}

var tpas = []Option{
	{"MEDI_ASSIST", "Medi Assist"},
	{"PARAMOUNT", "Paramount Health Services"},
	{"VIDAL", "Vidal Health TPA"},
	{"RAKSHA", "Raksha TPA"},
	{"GOOD_HEALTH", "Good Health TPA"},
	{"HERITAGE", "Heritage Health TPA"},
	{"ERICSON", "Ericson Insurance TPA"},
	{"MD_INDIA", "MD India"},
	{"HEALTH_INDIA", "Health India TPA"},
	{"SAFEWAY", "Safeway Insurance TPA"},
}

// PolicyOptions returns copies of the insurer and TPA pick lists.
func PolicyOptions() Options {
	return Options{
		Insurers: append([]Option(nil), insurers...),
		TPAs:     append([]Option(nil), tpas...),
	}
}

// resolveName maps a known code to its display name. Anything else is
// taken as a free-text name.
func resolveName(list []Option, v string) string {
	v = strings.TrimSpace(v)
	for _, o := range list {
		if strings.EqualFold(o.Code, v) {
			return o.Name
		}
	}
	return v
}
