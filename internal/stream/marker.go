package stream

import "regexp"

// agentMarker matches the inline identity marker: "<name>", one or more
// characters other than '<', then "</name>". Only the leftmost match counts.
var agentMarker = regexp.MustCompile(`<name>([^<]+)</name>`) //nolint:gochecknoglobals // compiled once

// DetectAgent returns the agent name from the first identity marker in text.
func DetectAgent(text string) (string, bool) {
	m := agentMarker.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// HasAgentMarker reports whether text carries an identity marker. Such
// fragments are metadata and are not collected as specialist output.
func HasAgentMarker(text string) bool {
	return agentMarker.MatchString(text)
}
