package payment

// ExemptionPolicy decides whether a generation may proceed without payment.
// Absent an explicit policy every request requires payment.
type ExemptionPolicy interface {
	// Exempt returns a non-empty audit reason when the request is exempt.
	Exempt(modelID string) (string, bool)
}

// NoExemptions is the default policy: payment is always required.
type NoExemptions struct{}

func (NoExemptions) Exempt(string) (string, bool) { return "", false }

// ModelAllowlist exempts a fixed set of model ids, typically configured for
// internal smoke tests. Every exemption is logged by the gate.
type ModelAllowlist map[string]struct{}

// NewModelAllowlist builds an allowlist policy from model ids.
func NewModelAllowlist(ids []string) ModelAllowlist {
	allow := make(ModelAllowlist, len(ids))
	for _, id := range ids {
		if id != "" {
			allow[id] = struct{}{}
		}
	}
	return allow
}

func (m ModelAllowlist) Exempt(modelID string) (string, bool) {
	if _, ok := m[modelID]; ok {
		return "model allowlisted", true
	}
	return "", false
}
