package orchestrator

// zeroBytes overwrites every byte of b in place. Passphrase buffers go
// through here before they are dropped.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// resetString clears the referenced string value so the secret is no longer
// reachable through it.
func resetString(s *string) {
	if s == nil {
		return
	}
	*s = ""
}
