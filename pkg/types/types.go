package types

// Message type constants for the full relay protocol vocabulary.
// Every client-visible message is one of these; the relay decides the
// delivery pattern per type, never per payload.
const (
	// Control messages handled by the relay itself.
	MessageTypeConnectToChannel      = "connectToChannel"
	MessageTypeDisconnectFromChannel = "disconnectFromChannel"

	// Project lifecycle.
	MessageTypeProjectConnected    = "projectConnected"
	MessageTypeProjectDisconnected = "projectDisconnected"
	MessageTypeProjectCreated      = "projectCreated"

	// Resource save-point notifications.
	MessageTypeResourceCreated = "resourceCreated"
	MessageTypeResourceChanged = "resourceChanged"
	MessageTypeResourceDeleted = "resourceDeleted"
	MessageTypeResourceStored  = "resourceStored"

	// Metadata.
	MessageTypeMetadataChanged     = "metadataChanged"
	MessageTypeGetMetadataRequest  = "getMetadataRequest"
	MessageTypeGetMetadataResponse = "getMetadataResponse"

	// Repository pull protocol.
	MessageTypeGetProjectsRequest  = "getProjectsRequest"
	MessageTypeGetProjectsResponse = "getProjectsResponse"
	MessageTypeGetProjectRequest   = "getProjectRequest"
	MessageTypeGetProjectResponse  = "getProjectResponse"
	MessageTypeGetResourceRequest  = "getResourceRequest"
	MessageTypeGetResourceResponse = "getResourceResponse"

	// Live-edit protocol.
	MessageTypeLiveResourceStarted         = "liveResourceStarted"
	MessageTypeLiveResourceStartedResponse = "liveResourceStartedResponse"
	MessageTypeLiveResourceChanged         = "liveResourceChanged"
	MessageTypeLiveMetadataChanged         = "liveMetadataChanged"
	MessageTypeGetLiveResourcesRequest     = "getLiveResourcesRequest"
	MessageTypeGetLiveResourcesResponse    = "getLiveResourcesResponse"

	// Tooling pass-through.
	MessageTypeContentAssistRequest  = "contentassistrequest"
	MessageTypeContentAssistResponse = "contentassistresponse"
	MessageTypeNavigationRequest     = "navigationrequest"
	MessageTypeNavigationResponse    = "navigationresponse"
	MessageTypeRenameInFileRequest   = "renameinfilerequest"
	MessageTypeRenameInFileResponse  = "renameinfileresponse"

	// Service discovery and assignment.
	MessageTypeDiscoverServiceRequest  = "discoverServiceRequest"
	MessageTypeDiscoverServiceResponse = "discoverServiceResponse"
	MessageTypeServiceStatusChange     = "serviceStatusChange"
	MessageTypeStartServiceRequest     = "startServiceRequest"
	MessageTypeStartServiceResponse    = "startServiceResponse"
	MessageTypeShutdownService         = "shutdownService"
	MessageTypeServiceReady            = "serviceReady"
)

// Reserved routing names. SuperUser and Everyone are deliberately not legal
// user ids so that nobody can register them with the identity provider and
// inherit their routing privileges.
const (
	// Wildcard is the channel every connection is implicitly joined to.
	Wildcard = "*"

	// SuperUser is the channel a privileged observer connection joins to
	// see all traffic.
	SuperUser = "$super$"

	// Everyone is the broker routing key the wildcard channel translates
	// to. Broker-internal only, never appears in client payloads.
	Everyone = "$all$"
)

// Payload field names shared across message types.
const (
	FieldUsername         = "username"
	FieldChannel          = "channel"
	FieldCallbackID       = "callback_id"
	FieldRequestSenderID  = "requestSenderID"
	FieldResponseSenderID = "responseSenderID"
	FieldSocketID         = "socketID"
	FieldProject          = "project"
	FieldResource         = "resource"
	FieldPath             = "path"
	FieldTimestamp        = "timestamp"
	FieldHash             = "hash"
	FieldType             = "type"
	FieldContent          = "content"
	FieldService          = "service"
	FieldStatus           = "status"
	FieldError            = "error"
)

// Resource types.
const (
	ResourceTypeFile   = "file"
	ResourceTypeFolder = "folder"
)

// Service provider statuses.
const (
	ServiceStatusUnavailable = "unavailable"
	ServiceStatusAvailable   = "available"
	ServiceStatusStarting    = "starting"
	ServiceStatusReady       = "ready"
)

// ServiceStatusRank orders provider statuses by desirability for discovery.
// Unknown statuses rank below every known one.
func ServiceStatusRank(status string) int {
	switch status {
	case ServiceStatusUnavailable:
		return 1
	case ServiceStatusAvailable:
		return 2
	case ServiceStatusStarting:
		return 3
	case ServiceStatusReady:
		return 4
	default:
		return 0
	}
}

// Message is a single websocket frame: a type tag plus a free-form payload.
type Message struct {
	Type string  `json:"type"`
	Data Payload `json:"data"`
}

// Envelope wraps a message for broker transport. Origin carries the inbox
// name of the publishing session so receivers can drop their own echoes.
type Envelope struct {
	Type   string  `json:"type"`
	Origin string  `json:"origin"`
	Data   Payload `json:"data"`
}

// ProjectInfo describes one project in a project listing.
type ProjectInfo struct {
	Name string `json:"name"`
}

// ResourceInfo describes one live resource in a project listing.
type ResourceInfo struct {
	Path      string `json:"path"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Hash      string `json:"hash"`
}

// DeletedInfo describes one tombstone in a project listing.
type DeletedInfo struct {
	Path      string `json:"path"`
	Timestamp int64  `json:"timestamp"`
}

// Resource is a stored resource save-point with content.
type Resource struct {
	Content   string `json:"content"`
	Type      string `json:"type"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// SyncStatus is the result of a staleness check against a stored resource,
// from the perspective of the peer announcing (type, timestamp, hash).
type SyncStatus struct {
	Exists      bool `json:"exists"`
	Deleted     bool `json:"deleted"`
	NeedsUpdate bool `json:"needsUpdate"`
}
