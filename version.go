package svcd

// Version is the current version of svcd
const Version = "1.0.0"

// ProtocolVersion is announced in discovery replies and the web API. Peers
// with a different protocol version are still listed but may not be usable.
const ProtocolVersion = 1

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string `json:"version"`
	// Protocol is the discovery and web protocol version
	Protocol int `json:"protocol"`
	// JobTypes are the job types the default registry knows
	JobTypes []string `json:"job_types"`
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:  Version,
		Protocol: ProtocolVersion,
		JobTypes: DefaultRegistry().Types(),
	}
}
