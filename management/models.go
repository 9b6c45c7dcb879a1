package management

import (
	"strings"
	"time"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
)

// SortOrder orders list results.
type SortOrder string

// Sort orders.
const (
	SortAscending  SortOrder = "asc"
	SortDescending SortOrder = "desc"
)

// Paging carries pagination information for list operations.
type Paging struct {
	// Offset is the offset from which the list starts.
	Offset int `json:"offset"`
	// Count is the number of items in this page.
	Count int `json:"count"`
	// Total is the total number of items in the backend.
	Total int `json:"total"`
}

// ConnectionType distinguishes API-key connections from gateway connections.
type ConnectionType string

// Connection types.
const (
	ConnectionTypeAPI     ConnectionType = "API"
	ConnectionTypeGateway ConnectionType = "Gateway"
)

// ConnectionStatus is the lifecycle state of a connection.
type ConnectionStatus string

// Connection statuses.
const (
	ConnectionStatusConnected    ConnectionStatus = "Connected"
	ConnectionStatusDisconnected ConnectionStatus = "Disconnected"
	ConnectionStatusPending      ConnectionStatus = "Pending"
)

// Application is a registered AI application.
type Application struct {
	ApplicationID   string         `json:"application_id" validate:"required"`
	ApplicationName string         `json:"application_name"`
	Description     string         `json:"description"`
	ConnectionType  ConnectionType `json:"connection_type"`
	CreatedAt       time.Time      `json:"created_at,omitzero"`
	UpdatedAt       time.Time      `json:"updated_at,omitzero"`
	UpdatedBy       string         `json:"updated_by,omitempty"`
	// Connections is populated on expanded reads.
	Connections *Connections `json:"connections,omitempty"`
}

// Applications is a page of applications.
type Applications struct {
	Items  []Application `json:"items"`
	Paging Paging        `json:"paging"`
}

// ListApplicationsRequest filters and pages an application listing.
type ListApplicationsRequest struct {
	// Limit caps the number of records returned; default and max is 100.
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
	// Expanded includes each application's connections.
	Expanded *bool     `json:"expanded,omitempty"`
	SortBy   string    `json:"sort_by,omitempty"`
	Order    SortOrder `json:"order,omitempty"`
}

// CreateApplicationRequest creates an application.
type CreateApplicationRequest struct {
	ApplicationName string         `json:"application_name" validate:"required"`
	Description     string         `json:"description"`
	ConnectionType  ConnectionType `json:"connection_type" validate:"required,oneof=API Gateway"`
}

// UpdateApplicationRequest renames or re-describes an application. Empty
// fields are left unchanged.
type UpdateApplicationRequest struct {
	ApplicationName string `json:"application_name,omitempty"`
	Description     string `json:"description,omitempty"`
}

// APIKeyRequest asks for a new connection API key.
type APIKeyRequest struct {
	Name   string    `json:"name" validate:"required"`
	Expiry time.Time `json:"expiry" validate:"required"`
}

// APIKeyResponse is a freshly generated connection API key. The key material
// is returned exactly once.
type APIKeyResponse struct {
	KeyID  string `json:"key_id"`
	APIKey string `json:"api_key"`
}

// APIKey describes an existing connection API key. Key material is never
// included.
type APIKey struct {
	ID     string    `json:"id" validate:"required"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
	Expiry time.Time `json:"expiry,omitzero"`
}

// APIKeys is a page of connection API keys.
type APIKeys struct {
	Items  []APIKey `json:"items"`
	Paging Paging   `json:"paging"`
}

// Endpoint is the model endpoint a connection proxies to.
type Endpoint struct {
	EndpointID        string `json:"endpoint_id"`
	ModelEndpointType string `json:"model_endpoint_type,omitempty"`
	ModelEndpointURL  string `json:"model_endpoint_url,omitempty"`
	ModelProviderName string `json:"model_provider_name,omitempty"`
}

// Connection binds an application to an inspected model endpoint.
type Connection struct {
	ConnectionID     string           `json:"connection_id" validate:"required"`
	ConnectionName   string           `json:"connection_name"`
	ApplicationID    string           `json:"application_id"`
	EndpointID       string           `json:"endpoint_id,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	CreatedAt        time.Time        `json:"created_at,omitzero"`
	UpdatedAt        time.Time        `json:"updated_at,omitzero"`
	LastActive       time.Time        `json:"last_active,omitzero"`
	UpdatedBy        string           `json:"updated_by,omitempty"`
	// Expanded reads populate the related resources.
	Application *Application `json:"application,omitempty"`
	Policies    []Policy     `json:"policies,omitempty"`
	Endpoint    *Endpoint    `json:"endpoint,omitempty"`
}

// Connections is a page of connections.
type Connections struct {
	Items  []Connection `json:"items"`
	Paging Paging       `json:"paging"`
}

// ListConnectionsRequest filters and pages a connection listing.
type ListConnectionsRequest struct {
	Limit            int              `json:"limit,omitempty"`
	Offset           int              `json:"offset,omitempty"`
	Expanded         *bool            `json:"expanded,omitempty"`
	SortBy           string           `json:"sort_by,omitempty"`
	Order            SortOrder        `json:"order,omitempty"`
	ConnectionType   ConnectionType   `json:"connection_type,omitempty"`
	ConnectionStatus ConnectionStatus `json:"connection_status,omitempty"`
	ConnectionName   string           `json:"connection_name,omitempty"`
}

// CreateConnectionRequest creates a connection, optionally generating its
// first API key in the same call.
type CreateConnectionRequest struct {
	ApplicationID     string         `json:"application_id" validate:"required"`
	ConnectionName    string         `json:"connection_name" validate:"required"`
	ConnectionType    ConnectionType `json:"connection_type" validate:"required,oneof=API Gateway"`
	EndpointID        string         `json:"endpoint_id,omitempty"`
	ConnectionGuideID string         `json:"connection_guide_id,omitempty"`
	Key               *APIKeyRequest `json:"key,omitempty"`
}

// CreateConnectionResponse carries the created connection id and, when a key
// was requested, the generated key material.
type CreateConnectionResponse struct {
	ConnectionID string          `json:"connection_id"`
	Key          *APIKeyResponse `json:"key,omitempty"`
}

// KeyOperation selects the API-key edit to perform on a connection.
type KeyOperation string

// Key operations.
const (
	KeyOpGenerate   KeyOperation = "GENERATE_API_KEY"
	KeyOpRegenerate KeyOperation = "REGENERATE_API_KEY"
	KeyOpRevoke     KeyOperation = "REVOKE_API_KEY"
)

// UpdateAPIKeyRequest edits a connection's API keys. Generate and regenerate
// take Key; revoke takes KeyID.
type UpdateAPIKeyRequest struct {
	Operation KeyOperation   `json:"op" validate:"required"`
	KeyID     string         `json:"key_id,omitempty"`
	Key       *APIKeyRequest `json:"key,omitempty"`
}

// GuardrailType groups guardrail rules by concern.
type GuardrailType string

// Guardrail types.
const (
	GuardrailSecurity GuardrailType = "Security"
	GuardrailPrivacy  GuardrailType = "Privacy"
	GuardrailSafety   GuardrailType = "Safety"
)

// GuardrailRule is one rule inside a policy guardrail.
type GuardrailRule struct {
	RulesetType string `json:"ruleset_type"`
	Status      string `json:"status"`
	Direction   string `json:"direction"`
	Action      string `json:"action"`
	Entity      *struct {
		Name string `json:"name"`
		Desc string `json:"desc"`
	} `json:"entity,omitempty"`
}

// Guardrail is a typed group of rules.
type Guardrail struct {
	GuardrailsType GuardrailType   `json:"guardrails_type"`
	Items          []GuardrailRule `json:"items"`
	Paging         Paging          `json:"paging"`
}

// Guardrails is a page of guardrails.
type Guardrails struct {
	Items  []Guardrail `json:"items"`
	Paging Paging      `json:"paging"`
}

// Policy is an inspection policy applied to connections.
type Policy struct {
	PolicyID       string         `json:"policy_id" validate:"required"`
	PolicyName     string         `json:"policy_name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status,omitempty"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
	CreatedAt      time.Time      `json:"created_at,omitzero"`
	UpdatedAt      time.Time      `json:"updated_at,omitzero"`
	UpdatedBy      string         `json:"updated_by,omitempty"`
	// Guardrails is populated on expanded reads.
	Guardrails *Guardrails `json:"guardrails,omitempty"`
}

// Policies is a page of policies.
type Policies struct {
	Items  []Policy `json:"items"`
	Paging Paging   `json:"paging"`
}

// ListPoliciesRequest filters and pages a policy listing.
type ListPoliciesRequest struct {
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
	SortBy         string         `json:"sort_by,omitempty"`
	Order          SortOrder      `json:"order,omitempty"`
	ConnectionType ConnectionType `json:"connection_type,omitempty"`
	PolicyStatus   string         `json:"policy_status,omitempty"`
	PolicyName     string         `json:"policy_name,omitempty"`
}

// UpdatePolicyRequest renames or toggles a policy.
type UpdatePolicyRequest struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status,omitempty"`
}

// PolicyConnectionsRequest associates or disassociates connections with a
// policy.
type PolicyConnectionsRequest struct {
	ConnectionsToAssociate    []string `json:"connections_to_associate,omitempty"`
	ConnectionsToDisassociate []string `json:"connections_to_disassociate,omitempty"`
}

// ViolationMetadata names the standards and attack techniques a rule match
// relates to.
type ViolationMetadata struct {
	Standards  []string `json:"standards,omitempty"`
	Techniques []string `json:"techniques,omitempty"`
}

// EventRuleMatch is one guardrail rule that fired for an event.
type EventRuleMatch struct {
	GuardrailType        string             `json:"guardrail_type,omitempty"`
	GuardrailRulesetType string             `json:"guardrail_ruleset_type,omitempty"`
	GuardrailEntity      string             `json:"guardrail_entity,omitempty"`
	GuardrailAction      string             `json:"guardrail_action,omitempty"`
	Metadata             *ViolationMetadata `json:"metadata,omitempty"`
}

// EventRuleMatches is the set of rule matches of an event.
type EventRuleMatches struct {
	Items []EventRuleMatch `json:"items"`
}

// Event is one recorded inspection verdict.
type Event struct {
	EventID       string            `json:"event_id" validate:"required"`
	EventDate     time.Time         `json:"event_date,omitzero"`
	ApplicationID string            `json:"application_id,omitempty"`
	PolicyID      string            `json:"policy_id,omitempty"`
	ConnectionID  string            `json:"connection_id,omitempty"`
	EventAction   string            `json:"event_action,omitempty"`
	MessageID     string            `json:"message_id,omitempty"`
	Direction     string            `json:"direction,omitempty"`
	ModelName     string            `json:"model_name,omitempty"`
	RuleMatches   *EventRuleMatches `json:"rule_matches,omitempty"`
	// Expanded reads populate the related resources.
	Application *Application `json:"application,omitempty"`
	Policy      *Policy      `json:"policy,omitempty"`
	Connection  *Connection  `json:"connection,omitempty"`
}

// Events is a page of events.
type Events struct {
	Items  []Event `json:"items"`
	Paging Paging  `json:"paging"`
}

// ListEventsRequest filters and pages an event listing.
type ListEventsRequest struct {
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
	StartDate time.Time `json:"start_date,omitzero"`
	EndDate   time.Time `json:"end_date,omitzero"`
	Expanded  *bool     `json:"expanded,omitempty"`
	SortBy    string    `json:"sort_by,omitempty"`
	Order     SortOrder `json:"order,omitempty"`
}

// EventMessage is one message of an event conversation.
type EventMessage struct {
	MessageID   string    `json:"message_id"`
	EventID     string    `json:"event_id"`
	MessageDate time.Time `json:"message_date,omitzero"`
	Content     string    `json:"content"`
	Direction   string    `json:"direction"`
	Role        string    `json:"role,omitempty"`
}

// EventMessages is a page of event messages.
type EventMessages struct {
	Items  []EventMessage `json:"items"`
	Paging Paging         `json:"paging"`
}

// EventConversation is the full recorded conversation of an event.
type EventConversation struct {
	EventConversationID string        `json:"event_conversation_id"`
	Messages            EventMessages `json:"messages"`
}

// ScanStatus is the lifecycle state of a model scan.
type ScanStatus string

// Scan statuses.
const (
	ScanStatusPending    ScanStatus = "PENDING"
	ScanStatusInProgress ScanStatus = "IN_PROGRESS"
	ScanStatusCompleted  ScanStatus = "COMPLETED"
	ScanStatusFailed     ScanStatus = "FAILED"
	ScanStatusCanceled   ScanStatus = "CANCELED"
)

// ScanStatusInfo carries a scan's status and, on failure, the error detail.
type ScanStatusInfo struct {
	Status       ScanStatus `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// ScanThreat is one finding reported for a scanned file.
type ScanThreat struct {
	Type        string `json:"type,omitempty"`
	ThreatType  string `json:"threat_type,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description,omitempty"`
}

// ScanFileResult is the per-file outcome of a file scan.
type ScanFileResult struct {
	FileName     string       `json:"file_name"`
	ThreatsFound bool         `json:"threats_found"`
	Threats      []ScanThreat `json:"threats,omitempty"`
}

// RepoThreats is the set of findings for one repository file.
type RepoThreats struct {
	Items []ScanThreat `json:"items"`
}

// RepoFileResult is the per-file outcome of a repository scan.
type RepoFileResult struct {
	Name    string       `json:"name"`
	Status  string       `json:"status,omitempty"`
	Threats *RepoThreats `json:"threats,omitempty"`
}

// RepoAnalysis is the file-by-file analysis of a repository scan.
type RepoAnalysis struct {
	Items []RepoFileResult `json:"items"`
}

// Scan is the state of one model scan session.
type Scan struct {
	ScanID          string           `json:"scan_id" validate:"required"`
	StatusInfo      ScanStatusInfo   `json:"scan_status_info"`
	Results         []ScanFileResult `json:"results,omitempty"`
	AnalysisResults *RepoAnalysis    `json:"analysis_results,omitempty"`
	CreatedAt       time.Time        `json:"created_at,omitzero"`
	UpdatedAt       time.Time        `json:"updated_at,omitzero"`
}

// Scans is a page of scan sessions.
type Scans struct {
	Items      []Scan `json:"scans"`
	TotalCount int    `json:"total_count,omitempty"`
}

// ScanObject is a file registered within a scan, with the presigned URL its
// content is uploaded to.
type ScanObject struct {
	ObjectID  string `json:"object_id" validate:"required"`
	UploadURL string `json:"upload_url" validate:"required"`
}

// RepoAuth supplies credentials for accessing a model repository.
type RepoAuth interface {
	// repoAuth returns the provider config name and its credential map.
	repoAuth() (name string, credentials map[string]string)
}

// HuggingFaceAuth authenticates against huggingface.co repositories.
type HuggingFaceAuth struct {
	Token string
}

func (a HuggingFaceAuth) repoAuth() (string, map[string]string) {
	return "huggingface", map[string]string{"access_token": a.Token}
}

// RepoScanConfig describes a repository to scan. A nil Auth scans public
// repositories only.
type RepoScanConfig struct {
	URL  string
	Auth RepoAuth
}

// urlType derives the repository platform from the URL.
func (r RepoScanConfig) urlType() (string, error) {
	if strings.Contains(r.URL, "huggingface.co") {
		return "HUGGING_FACE", nil
	}
	return "", aidefense.NewValidationError("unsupported repository url: %q", r.URL)
}

// authConfig shapes the credentials the way the scan API expects, keyed by
// provider name.
func (r RepoScanConfig) authConfig() map[string]map[string]string {
	if r.Auth == nil {
		return map[string]map[string]string{}
	}
	name, credentials := r.Auth.repoAuth()
	return map[string]map[string]string{name: credentials}
}

// AssetType selects what an AI validation job targets.
type AssetType string

// Asset types.
const (
	AssetTypeUnknown     AssetType = "UNKNOWN"
	AssetTypeApplication AssetType = "APPLICATION"
	AssetTypeModel       AssetType = "MODEL"
	AssetTypeExternal    AssetType = "EXTERNAL"
)

// AWSRegion is the region a Bedrock validation request is served from.
type AWSRegion int

// AWS regions.
const (
	AWSRegionUnspecified AWSRegion = iota
	AWSRegionUSEast1
	AWSRegionUSWest2
	AWSRegionEUCentral1
	AWSRegionAPNortheast1
)

// ValidationJobStatus is the lifecycle state of an AI validation job.
type ValidationJobStatus string

// Validation job statuses.
const (
	ValidationJobCreated    ValidationJobStatus = "JOB_CREATED"
	ValidationJobInProgress ValidationJobStatus = "JOB_IN_PROGRESS"
	ValidationJobCompleted  ValidationJobStatus = "JOB_COMPLETED"
	ValidationJobFailed     ValidationJobStatus = "JOB_FAILED"
)

// Header is one HTTP header sent with external model calls during
// validation.
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StartValidationRequest starts an AI validation job.
type StartValidationRequest struct {
	AssetType               AssetType `json:"asset_type,omitempty"`
	ApplicationID           string    `json:"application_id,omitempty"`
	AIAssetName             string    `json:"ai_asset_name,omitempty"`
	ValidationScanName      string    `json:"validation_scan_name,omitempty"`
	ModelProvider           string    `json:"model_provider,omitempty"`
	Headers                 []Header  `json:"headers,omitempty"`
	ModelEndpointURLModelID string    `json:"model_endpoint_url_model_id,omitempty"`
	ModelRequestTemplate    string    `json:"model_request_template,omitempty"`
	ModelResponseJSONPath   string    `json:"model_response_json_path,omitempty"`
	Description             string    `json:"description,omitempty"`
	AWSRegion               AWSRegion `json:"aws_region,omitempty"`
	MaxTokens               int       `json:"max_tokens,omitempty"`
	Temperature             float64   `json:"temperature,omitempty"`
	TopP                    float64   `json:"top_p,omitempty"`
	StopSequences           []string  `json:"stop_sequences,omitempty"`
	AdditionalConfig        string    `json:"additional_config,omitempty"`
	ExternalAPIProvider     string    `json:"external_api_provider,omitempty"`
}

// StartValidationResponse carries the task id of a started validation job.
type StartValidationResponse struct {
	TaskID string `json:"task_id" validate:"required"`
}

// ValidationJob is the status and progress of an AI validation job.
type ValidationJob struct {
	TaskID          string              `json:"task_id" validate:"required"`
	TenantID        string              `json:"tenant_id,omitempty"`
	ConfigID        string              `json:"config_id,omitempty"`
	RunCount        int                 `json:"run_count,omitempty"`
	Status          ValidationJobStatus `json:"status,omitempty"`
	Progress        int                 `json:"progress,omitempty"`
	TotalNumPrompts int                 `json:"total_num_prompts,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
	CreatedAt       time.Time           `json:"created_at,omitzero"`
	StartedAt       time.Time           `json:"started_at,omitzero"`
	CompletedAt     time.Time           `json:"completed_at,omitzero"`
}

// ValidationConfig is one stored AI validation configuration.
type ValidationConfig struct {
	ConfigID                string    `json:"config_id,omitempty"`
	TenantID                string    `json:"tenant_id,omitempty"`
	AssetType               AssetType `json:"asset_type,omitempty"`
	ApplicationID           string    `json:"application_id,omitempty"`
	AIAssetName             string    `json:"ai_asset_name,omitempty"`
	ValidationScanName      string    `json:"validation_scan_name,omitempty"`
	ModelProvider           string    `json:"model_provider,omitempty"`
	ModelEndpointURLModelID string    `json:"model_endpoint_url_model_id,omitempty"`
	ModelRequestTemplate    string    `json:"model_request_template,omitempty"`
	ModelResponseJSONPath   string    `json:"model_response_json_path,omitempty"`
	CreatedAt               time.Time `json:"created_at,omitzero"`
	UpdatedAt               time.Time `json:"updated_at,omitzero"`
}

// ValidationConfigs is the set of stored AI validation configurations.
type ValidationConfigs struct {
	Items []ValidationConfig `json:"config"`
}
