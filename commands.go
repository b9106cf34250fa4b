package svcd

import (
	"encoding/json"
	"fmt"
)

// CommandType tags the concrete type of a Command on the wire
type CommandType string

// Command types
const (
	CmdReloadJobs    CommandType = "reloadjobs"
	CmdGetServices   CommandType = "getservices"
	CmdGetDesc       CommandType = "getdescription"
	CmdGetStatus     CommandType = "getstatus"
	CmdGetOutput     CommandType = "getoutput"
	CmdGetLogs       CommandType = "getlogs"
	CmdReceiveConfig CommandType = "receiveconfig"
	CmdSendConfig    CommandType = "sendconfig"
	CmdStart         CommandType = "start"
	CmdStop          CommandType = "stop"
	CmdRestart       CommandType = "restart"
	CmdScan          CommandType = "scan"
	CmdAuthenticate  CommandType = "authenticate"
)

// CmdGetAllServiceInfo is accepted on input and decodes to GetServicesCommand
const CmdGetAllServiceInfo CommandType = "getallserviceinfo"

// Command is an inbound request decoded by a transport. The set of
// implementations is closed; see the Cmd* constants.
type Command interface {
	CommandType() CommandType
}

// Target is embedded by commands addressing one service instance
type Target struct {
	Service  string `json:"service"`
	Instance string `json:"instance"`
}

// ID returns the addressed ServiceID
func (t Target) ID() ServiceID {
	return ServiceID{Service: t.Service, Instance: t.Instance}
}

type (
	// ReloadJobsCommand rebuilds all jobs from configuration
	ReloadJobsCommand struct{}
	// GetServicesCommand requests the service list
	GetServicesCommand struct{}
	// GetDescriptionCommand requests a service description
	GetDescriptionCommand struct{ Target }
	// GetStatusCommand requests a status sample
	GetStatusCommand struct{ Target }
	// GetOutputCommand requests the last control output
	GetOutputCommand struct{ Target }
	// GetLogsCommand requests log excerpts
	GetLogsCommand struct{ Target }
	// ReceiveConfigCommand requests the configuration files
	ReceiveConfigCommand struct{ Target }
	// StartCommand starts a service instance
	StartCommand struct{ Target }
	// StopCommand stops a service instance
	StopCommand struct{ Target }
	// RestartCommand restarts a service instance
	RestartCommand struct{ Target }
	// ScanCommand triggers a network discovery scan
	ScanCommand struct{}
)

// SendConfigCommand overwrites one configuration file
type SendConfigCommand struct {
	Target
	Filename string `json:"filename"`
	Contents string `json:"contents"`
}

// AuthenticateCommand exchanges credentials for a permission level
type AuthenticateCommand struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

func (*ReloadJobsCommand) CommandType() CommandType     { return CmdReloadJobs }
func (*GetServicesCommand) CommandType() CommandType    { return CmdGetServices }
func (*GetDescriptionCommand) CommandType() CommandType { return CmdGetDesc }
func (*GetStatusCommand) CommandType() CommandType      { return CmdGetStatus }
func (*GetOutputCommand) CommandType() CommandType      { return CmdGetOutput }
func (*GetLogsCommand) CommandType() CommandType        { return CmdGetLogs }
func (*ReceiveConfigCommand) CommandType() CommandType  { return CmdReceiveConfig }
func (*SendConfigCommand) CommandType() CommandType     { return CmdSendConfig }
func (*StartCommand) CommandType() CommandType          { return CmdStart }
func (*StopCommand) CommandType() CommandType           { return CmdStop }
func (*RestartCommand) CommandType() CommandType        { return CmdRestart }
func (*ScanCommand) CommandType() CommandType           { return CmdScan }
func (*AuthenticateCommand) CommandType() CommandType   { return CmdAuthenticate }

// EncodeCommand returns the JSON envelope for cmd
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding %s command: %w", cmd.CommandType(), err)
	}
	return json.Marshal(envelope{Type: string(cmd.CommandType()), Data: data})
}

// DecodeCommand parses a JSON envelope produced by EncodeCommand
func DecodeCommand(raw []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding command envelope: %w", err)
	}
	var cmd Command
	switch CommandType(env.Type) {
	case CmdReloadJobs:
		cmd = &ReloadJobsCommand{}
	case CmdGetServices, CmdGetAllServiceInfo:
		cmd = &GetServicesCommand{}
	case CmdGetDesc:
		cmd = &GetDescriptionCommand{}
	case CmdGetStatus:
		cmd = &GetStatusCommand{}
	case CmdGetOutput:
		cmd = &GetOutputCommand{}
	case CmdGetLogs:
		cmd = &GetLogsCommand{}
	case CmdReceiveConfig:
		cmd = &ReceiveConfigCommand{}
	case CmdSendConfig:
		cmd = &SendConfigCommand{}
	case CmdStart:
		cmd = &StartCommand{}
	case CmdStop:
		cmd = &StopCommand{}
	case CmdRestart:
		cmd = &RestartCommand{}
	case CmdScan:
		cmd = &ScanCommand{}
	case CmdAuthenticate:
		cmd = &AuthenticateCommand{}
	default:
		return nil, fmt.Errorf("unknown command type %q", env.Type)
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, cmd); err != nil {
			return nil, fmt.Errorf("decoding %s command: %w", env.Type, err)
		}
	}
	return cmd, nil
}
