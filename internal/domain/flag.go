package domain

import "time"

// Vulnerability codes a flag can be awarded for.
const (
	VulnExcessiveAgency      = "EA"
	VulnPromptInjection      = "PI"
	VulnSensitiveInfo        = "SID"
	VulnImproperOutput       = "IOH"
	VulnSystemPromptLeakage  = "SPL"
	VulnUnboundedConsumption = "UC"
)

// FlagAward is the stored token for one (user, vulnerability) pair.
type FlagAward struct {
	UserID    int64     `json:"user_id"`
	VulnCode  string    `json:"vuln_code"`
	Flag      string    `json:"flag"`
	CreatedAt time.Time `json:"created_at"`
}

// MCPEndpoint is a user-registered remote tool source.
type MCPEndpoint struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}
