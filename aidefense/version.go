package aidefense

// Version is the SDK release version, reported in the User-Agent header of
// every outbound request.
const Version = "1.0.0"

// UserAgent identifies this SDK on the wire.
const UserAgent = "Cisco-AI-Defense-Go-SDK/" + Version
