package severity

import "testing"

func TestFromScale10(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Level
	}{
		{"guardduty high finding", 8.5, Critical},
		{"critical boundary inclusive", 7, Critical},
		{"just below critical", 6.9, High},
		{"high boundary inclusive", 4, High},
		{"medium boundary inclusive", 2, Medium},
		{"below all thresholds", 1.9, Low},
		{"zero", 0, Low},
		{"negative out of range", -3, Low},
		{"above scale", 42, Critical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromScale10(tt.in); got != tt.want {
				t.Errorf("FromScale10(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromScale100(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want Level
	}{
		{"securityhub medium finding", 35, Medium},
		{"critical boundary inclusive", 70, Critical},
		{"high boundary inclusive", 40, High},
		{"medium boundary inclusive", 20, Medium},
		{"below all thresholds", 19, Low},
		{"zero", 0, Low},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromScale100(tt.in); got != tt.want {
				t.Errorf("FromScale100(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromWazuhLevel(t *testing.T) {
	tests := []struct {
		in   int
		want Level
	}{
		{16, Critical},
		{15, Critical},
		{14, High},
		{10, High},
		{9, Medium},
		{5, Medium},
		{4, Low},
		{0, Low},
	}

	for _, tt := range tests {
		if got := FromWazuhLevel(tt.in); got != tt.want {
			t.Errorf("FromWazuhLevel(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTableLookupTotality(t *testing.T) {
	tables := map[string]Table{
		"AzureSecurityCenter":      AzureSecurityCenter,
		"AzureMonitor":             AzureMonitor,
		"GCPSecurityCommandCenter": GCPSecurityCommandCenter,
		"GCPLogging":               GCPLogging,
		"Splunk":                   Splunk,
	}

	unknowns := []string{"", "bogus", "CRITICAL!!!", "9000", "critical "} // never defined keys

	for name, table := range tables {
		t.Run(name, func(t *testing.T) {
			for _, in := range unknowns {
				if got := table.Lookup(in); got != Low {
					t.Errorf("%s.Lookup(%q) = %q, want %q", name, in, got, Low)
				}
			}
		})
	}
}

func TestTableLookupCaseSensitive(t *testing.T) {
	// Azure labels are TitleCase; lowercase variants are not defined keys
	// and must fall through to Low.
	if got := AzureSecurityCenter.Lookup("critical"); got != Low {
		t.Errorf("Lookup(%q) = %q, want %q (case-sensitive table)", "critical", got, Low)
	}
	if got := AzureSecurityCenter.Lookup("Critical"); got != Critical {
		t.Errorf("Lookup(%q) = %q, want %q", "Critical", got, Critical)
	}
}

func TestFromLabel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"High", High},
		{"CRITICAL", Critical},
		{" medium ", Medium},
		{"low", Low},
		{"unknown", Low},
		{"", Low},
		{"severe", Low},
	}

	for _, tt := range tests {
		if got := FromLabel(tt.in); got != tt.want {
			t.Errorf("FromLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
