package logs

import "strings"

// Filter selects log lines by structured field. Empty fields match anything.
type Filter struct {
	JobID string
	Stage string
	// Contains is a plain substring match on the whole line.
	Contains string
}

func (f Filter) empty() bool {
	return f.JobID == "" && f.Stage == "" && f.Contains == ""
}

// Match reports whether line satisfies every set field.
func (f Filter) Match(line string) bool {
	if f.JobID != "" && !hasField(line, "job_id", f.JobID) {
		return false
	}
	if f.Stage != "" && !hasField(line, "stage", f.Stage) {
		return false
	}
	if f.Contains != "" && !strings.Contains(line, f.Contains) {
		return false
	}
	return true
}

// hasField matches key=value, key="value" and "key":"value".
func hasField(line, key, value string) bool {
	for _, form := range []string{
		key + "=" + value,
		key + `="` + value + `"`,
		`"` + key + `":"` + value + `"`,
	} {
		idx := strings.Index(line, form)
		for idx >= 0 {
			end := idx + len(form)
			startOK := idx == 0 || line[idx-1] == ' ' || line[idx-1] == '{' || line[idx-1] == ','
			endOK := end == len(line) || line[end] == ' ' || line[end] == ',' || line[end] == '}'
			if startOK && endOK {
				return true
			}
			next := strings.Index(line[idx+1:], form)
			if next < 0 {
				break
			}
			idx += next + 1
		}
	}
	return false
}
