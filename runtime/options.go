package runtime

import "time"

// inspectRequest collects the per-call knobs of an inspection.
type inspectRequest struct {
	metadata  *Metadata
	config    *InspectionConfig
	requestID string
	timeout   time.Duration
}

// InspectOption is a functional option for a single inspection call.
type InspectOption func(*inspectRequest)

// WithMetadata attaches caller metadata to the inspection.
func WithMetadata(md *Metadata) InspectOption {
	return func(r *inspectRequest) { r.metadata = md }
}

// WithInspectionConfig attaches an inspection configuration (enabled rules,
// integration profile) to the call.
func WithInspectionConfig(cfg *InspectionConfig) InspectOption {
	return func(r *inspectRequest) { r.config = cfg }
}

// WithRequestID overrides the auto-generated x-aidefense-request-id.
func WithRequestID(id string) InspectOption {
	return func(r *inspectRequest) { r.requestID = id }
}

// WithCallTimeout overrides the configured HTTP timeout for this call.
func WithCallTimeout(d time.Duration) InspectOption {
	return func(r *inspectRequest) { r.timeout = d }
}
