package domain

// CredentialRef is an opaque handle to provider credentials. Resolution is
// delegated to a SecretResolver collaborator; no crypto scheme lives here.
type CredentialRef string

// Provider is administered externally. The delivery subsystem only reads it
// and adjusts HealthScore/IsActive through the directory.
type Provider struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenant_id"`
	ProviderType       string        `json:"provider_type"`
	IntegrationType    string        `json:"integration_type"`
	APIEndpoint        string        `json:"api_endpoint"`
	CredentialRef      CredentialRef `json:"credential_ref"`
	IsActive           bool          `json:"is_active"`
	HealthScore        float64       `json:"health_score"`
	RateLimit          int           `json:"rate_limit"`
	RateResetInterval  int           `json:"rate_reset_interval_sec"`
	FallbackProviderID string        `json:"fallback_provider_id,omitempty"`
}

// Preferences come from the external preference store.
type Preferences struct {
	UserID      string   `json:"user_id"`
	TenantID    string   `json:"tenant_id"`
	MessageType string   `json:"message_type"`
	ChannelIDs  []string `json:"channel_ids"`
	Enabled     bool     `json:"enabled"`
}

// Template comes from the external template store. Body may contain
// {{placeholder}} tokens substituted at dispatch time.
type Template struct {
	MessageType string `json:"message_type"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

// Message is a compiled, ready-to-send notification.
type Message struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}
