package usecase

import "strings"

// HostScope is the set of hosts the pipeline may fetch from. It is fixed at
// startup from the configured sources; references on any other host are
// dropped. An empty scope admits every host.
type HostScope map[string]bool

func NewHostScope(hosts ...string) HostScope {
	s := make(HostScope, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			s[h] = true
		}
	}
	return s
}

func (s HostScope) Allows(host string) bool {
	return len(s) == 0 || s[strings.ToLower(host)]
}
