package utils

import "strings"

// ExtractCandidates returns the a=candidate lines carried in an SDP body.
func ExtractCandidates(sdp string) []string {
	var candidates []string
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "a=candidate:") {
			candidates = append(candidates, strings.TrimPrefix(line, "a="))
		}
	}
	return candidates
}

// Preview truncates s for log output.
func Preview(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
