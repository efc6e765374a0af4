package credential

import "time"

// Entry is a single stored credential record, identified by (Protocol, Target).
type Entry struct {
	Protocol           Protocol   `json:"protocol"`
	Target             string     `json:"target"`
	Label              string     `json:"label,omitempty"`
	Credential         Credential `json:"credential"`
	AllowedPaths       []string   `json:"allowedPaths,omitempty"`
	RateLimitPerMinute int        `json:"rateLimitPerMinute,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ExpiresAt          *time.Time `json:"expiresAt,omitempty"`
}

// Key renders the entry's identity key.
func (e Entry) Key() string {
	return Key(e.Protocol, e.Target)
}

// Expired reports whether the entry's ExpiresAt has passed as of now.
func (e Entry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// Metadata is the non-secret projection of an Entry returned by "list".
type Metadata struct {
	Protocol       Protocol   `json:"protocol"`
	Target         string     `json:"target"`
	Label          string     `json:"label,omitempty"`
	CredentialType Type       `json:"credentialType"`
	CreatedAt      time.Time  `json:"createdAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// ToMetadata projects an Entry to its non-secret Metadata.
func (e Entry) ToMetadata() Metadata {
	return Metadata{
		Protocol:       e.Protocol,
		Target:         e.Target,
		Label:          e.Label,
		CredentialType: e.Credential.Type,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}
