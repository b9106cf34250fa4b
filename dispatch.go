package svcd

import (
	"context"
	"fmt"
)

// Dispatch executes cmd on behalf of client and returns the reply event.
// Commands without a reply (control, reload, sendconfig, scan) return a nil
// event on success; their effects arrive as pushed events.
func (h *Handler) Dispatch(ctx context.Context, client ClientInfo, cmd Command) (Event, error) {
	switch c := cmd.(type) {
	case *ReloadJobsCommand:
		return nil, h.TriggerReload(client)

	case *GetServicesCommand:
		return h.RequestServiceList(ctx, client), nil

	case *GetDescriptionCommand:
		desc, err := h.RequestServiceDescription(ctx, client, c.ID())
		if err != nil {
			return nil, err
		}
		return &DescriptionEvent{Service: c.Service, Instance: c.Instance, Description: desc}, nil

	case *GetStatusCommand:
		s, err := h.RequestServiceStatus(ctx, client, c.ID())
		if err != nil {
			return nil, err
		}
		return &StatusEvent{Service: c.Service, Instance: c.Instance, State: s.State, ExtStatus: s.ExtStatus}, nil

	case *GetOutputCommand:
		lines, err := h.RequestControlOutput(ctx, client, c.ID())
		if err != nil {
			return nil, err
		}
		return &ControlOutputEvent{Service: c.Service, Instance: c.Instance, Content: lines}, nil

	case *GetLogsCommand:
		files, err := h.RequestLogfiles(ctx, client, c.ID())
		if err != nil {
			return nil, err
		}
		return &LogFilesEvent{Service: c.Service, Instance: c.Instance, Files: files}, nil

	case *ReceiveConfigCommand:
		files, err := h.RequestConffiles(ctx, client, c.ID())
		if err != nil {
			return nil, err
		}
		return &ConfFilesEvent{Service: c.Service, Instance: c.Instance, Files: files}, nil

	case *SendConfigCommand:
		return nil, h.SendConffile(ctx, client, c.ID(), c.Filename, c.Contents)

	case *StartCommand:
		return nil, h.StartService(ctx, client, c.ID())

	case *StopCommand:
		return nil, h.StopService(ctx, client, c.ID())

	case *RestartCommand:
		return nil, h.RestartService(ctx, client, c.ID())

	case *ScanCommand:
		_, err := h.ScanNetwork(ctx, client)
		return nil, err

	case *AuthenticateCommand:
		res, _, err := h.Authenticate(c.User, c.Password)
		if err != nil {
			return nil, err
		}
		return res, nil

	default:
		return nil, Faultf("unsupported command %s", commandName(cmd))
	}
}

func commandName(cmd Command) string {
	if cmd == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%q", cmd.CommandType())
}
