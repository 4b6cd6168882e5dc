package client

// Endpoint is the symbolic name of a server capability. Each name maps to a
// fixed path segment that must match the server verbatim.
type Endpoint string

const (
	EndpointAccounts   Endpoint = "accounts"
	EndpointDevices    Endpoint = "devices"
	EndpointKeys       Endpoint = "keys"
	EndpointPush       Endpoint = "push"
	EndpointTempPush   Endpoint = "temp_push"
	EndpointMessages   Endpoint = "messages"
	EndpointAttachment Endpoint = "attachment"
)

// endpointPaths is populated once at init and never written afterwards, so
// concurrent readers need no locking.
var endpointPaths = map[Endpoint]string{
	EndpointAccounts:   "/v1/accounts",
	EndpointDevices:    "/v1/devices",
	EndpointKeys:       "/v2/keys",
	EndpointPush:       "/v1/websocket/",
	EndpointTempPush:   "/v1/websocket/provisioning/",
	EndpointMessages:   "/v1/messages",
	EndpointAttachment: "/v1/attachments",
}

// Path returns the URL path segment registered for e.
func (e Endpoint) Path() (string, bool) {
	p, ok := endpointPaths[e]
	return p, ok
}
