// Package runtime provides the direct-use inspection clients of the AI
// Defense SDK: chat conversation inspection and raw HTTP traffic inspection.
package runtime

import "encoding/json"

// Role identifies the sender of a chat message.
type Role string

// Valid chat roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the accepted chat roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message is one entry of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Metadata carries optional caller context attached to an inspection:
// identity of the user and applications, network endpoints, transaction ids.
type Metadata struct {
	User                string `json:"user,omitempty"`
	SrcApp              string `json:"src_app,omitempty"`
	DstApp              string `json:"dst_app,omitempty"`
	SrcIP               string `json:"src_ip,omitempty"`
	DstIP               string `json:"dst_ip,omitempty"`
	DstHost             string `json:"dst_host,omitempty"`
	SNI                 string `json:"sni,omitempty"`
	UserAgent           string `json:"user_agent,omitempty"`
	ClientTransactionID string `json:"client_transaction_id,omitempty"`
}

// RuleName is the closed set of inspection rules the service can evaluate.
type RuleName string

// The closed RuleName enumeration.
const (
	RulePromptInjection RuleName = "Prompt Injection"
	RuleHarassment      RuleName = "Harassment"
	RulePII             RuleName = "PII"
	RulePCI             RuleName = "PCI"
	RulePHI             RuleName = "PHI"
	RuleCodeDetection   RuleName = "Code Detection"
	RuleHateSpeech      RuleName = "Hate Speech"
	RuleProfanity       RuleName = "Profanity"
	RuleSexualContent   RuleName = "Sexual Content & Exploitation"
	RuleSocialDivision  RuleName = "Social Division & Polarization"
	RuleToxicity        RuleName = "Toxicity"
	RuleViolence        RuleName = "Violence & Public Safety Threats"
)

// AllRuleNames lists every member of the closed RuleName enumeration, in
// canonical order.
func AllRuleNames() []RuleName {
	return []RuleName{
		RulePromptInjection, RuleHarassment, RulePII, RulePCI, RulePHI,
		RuleCodeDetection, RuleHateSpeech, RuleProfanity, RuleSexualContent,
		RuleSocialDivision, RuleToxicity, RuleViolence,
	}
}

// Classification is the service's verdict category for one rule.
type Classification string

// Classification values returned by the inspection service.
const (
	ClassificationNone      Classification = "NONE_VIOLATION"
	ClassificationSecurity  Classification = "SECURITY_VIOLATION"
	ClassificationPrivacy   Classification = "PRIVACY_VIOLATION"
	ClassificationSafety    Classification = "SAFETY_VIOLATION"
	ClassificationRelevance Classification = "RELEVANCE_VIOLATION"
)

// Severity grades an unsafe verdict.
type Severity string

// Severity values returned by the inspection service.
const (
	SeverityNone     Severity = "NONE_SEVERITY"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rule selects one inspection rule, optionally narrowed to entity types.
type Rule struct {
	RuleName       RuleName       `json:"rule_name,omitempty"`
	EntityTypes    []string       `json:"entity_types,omitempty"`
	RuleID         string         `json:"rule_id,omitempty"`
	Classification Classification `json:"classification,omitempty"`
}

// InspectionConfig tunes one inspection request: the enabled rule set and
// the integration profile the request runs under.
type InspectionConfig struct {
	EnabledRules              []Rule `json:"enabled_rules,omitempty"`
	IntegrationProfileID      string `json:"integration_profile_id,omitempty"`
	IntegrationProfileVersion string `json:"integration_profile_version,omitempty"`
	IntegrationTenantID       string `json:"integration_tenant_id,omitempty"`
	IntegrationType           string `json:"integration_type,omitempty"`
}

// InspectResponse is the parsed verdict of the inspection service.
type InspectResponse struct {
	IsSafe              bool             `json:"is_safe"`
	Classifications     []Classification `json:"classifications,omitempty"`
	Severity            Severity         `json:"severity,omitempty"`
	Rules               []Rule           `json:"rules,omitempty"`
	AttackTechnique     string           `json:"attack_technique,omitempty"`
	Explanation         string           `json:"explanation,omitempty"`
	ClientTransactionID string           `json:"client_transaction_id,omitempty"`
	EventID             string           `json:"event_id,omitempty"`
}

// Canonical entity-type sets for the rules that scope to entities.
var (
	PIIEntities = []string{
		"Email Address", "IP Address", "Phone Number", "Name", "Address",
		"Driver's License Number", "Passport Number",
		"Social Security Number (SSN)",
		"Individual Taxpayer Identification Number (ITIN)",
	}

	PCIEntities = []string{
		"Credit/Debit Card Number", "Bank Account Number",
		"Bank Routing Number", "IBAN Code", "SWIFT Code",
	}

	PHIEntities = []string{
		"Medical Record Number", "Health Insurance Policy Number",
		"Medicare Beneficiary Identifier (MBI)",
		"National Health Service (NHS) Number",
	}
)

// DefaultEnabledRules returns one Rule per RuleName. Entity types are
// attached only where the rule scopes to entities (PII, PCI, PHI).
func DefaultEnabledRules() []Rule {
	entityMap := map[RuleName][]string{
		RulePII: PIIEntities,
		RulePCI: PCIEntities,
		RulePHI: PHIEntities,
	}
	names := AllRuleNames()
	rules := make([]Rule, 0, len(names))
	for _, rn := range names {
		rules = append(rules, Rule{RuleName: rn, EntityTypes: entityMap[rn]})
	}
	return rules
}

// parseInspectResponse decodes a raw service payload into an InspectResponse.
// Unknown enum values are dropped rather than failing the whole parse.
func parseInspectResponse(data map[string]any) *InspectResponse {
	// Round-trip through JSON so nested shapes decode uniformly.
	raw, _ := json.Marshal(data)
	var decoded struct {
		IsSafe              *bool    `json:"is_safe"`
		Classifications     []string `json:"classifications"`
		Severity            string   `json:"severity"`
		Rules               []Rule   `json:"rules"`
		AttackTechnique     string   `json:"attack_technique"`
		Explanation         string   `json:"explanation"`
		ClientTransactionID string   `json:"client_transaction_id"`
		EventID             string   `json:"event_id"`
	}
	_ = json.Unmarshal(raw, &decoded)

	resp := &InspectResponse{
		IsSafe:              decoded.IsSafe == nil || *decoded.IsSafe,
		Severity:            Severity(decoded.Severity),
		Rules:               decoded.Rules,
		AttackTechnique:     decoded.AttackTechnique,
		Explanation:         decoded.Explanation,
		ClientTransactionID: decoded.ClientTransactionID,
		EventID:             decoded.EventID,
	}
	for _, c := range decoded.Classifications {
		resp.Classifications = append(resp.Classifications, Classification(c))
	}
	return resp
}
