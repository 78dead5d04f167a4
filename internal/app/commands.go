package app

import (
	"encoding/json"
	"sort"

	"github.com/Taylor-Ding/ech/internal/profile"
	"github.com/Taylor-Ding/ech/internal/state"
)

type command func(a *Application, args json.RawMessage) (any, error)

type idArgs struct {
	ID string `json:"id"`
}

type nameArgs struct {
	Name string `json:"name"`
}

type serverArgs struct {
	Server profile.Server `json:"server"`
}

type renameArgs struct {
	ID      string `json:"id"`
	NewName string `json:"newName"`
}

type proxyArgs struct {
	Enabled bool `json:"enabled"`
}

var commands = map[string]command{
	"get_servers": func(a *Application, _ json.RawMessage) (any, error) {
		return a.GetServers(), nil
	},
	"get_current_server": func(a *Application, _ json.RawMessage) (any, error) {
		if srv := a.GetCurrentServer(); srv != nil {
			return *srv, nil
		}
		return nil, nil
	},
	"get_current_server_id": func(a *Application, _ json.RawMessage) (any, error) {
		if id := a.GetCurrentServerID(); id != "" {
			return id, nil
		}
		return nil, nil
	},
	"set_current_server": func(a *Application, raw json.RawMessage) (any, error) {
		var args idArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, a.SetCurrentServer(args.ID)
	},
	"add_server": func(a *Application, raw json.RawMessage) (any, error) {
		var args nameArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		srv, err := a.AddServer(args.Name)
		if err != nil {
			return nil, err
		}
		return srv, nil
	},
	"update_server": func(a *Application, raw json.RawMessage) (any, error) {
		var args serverArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, a.UpdateServer(args.Server)
	},
	"delete_server": func(a *Application, raw json.RawMessage) (any, error) {
		var args idArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, a.DeleteServer(args.ID)
	},
	"rename_server": func(a *Application, raw json.RawMessage) (any, error) {
		var args renameArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return nil, a.RenameServer(args.ID, args.NewName)
	},
	"start_process": func(a *Application, _ json.RawMessage) (any, error) {
		return a.StartProcess()
	},
	"stop_process": func(a *Application, _ json.RawMessage) (any, error) {
		return a.StopProcess(), nil
	},
	"is_process_running": func(a *Application, _ json.RawMessage) (any, error) {
		return a.IsProcessRunning(), nil
	},
	"set_system_proxy": func(a *Application, raw json.RawMessage) (any, error) {
		var args proxyArgs
		if err := decodeArgs(raw, &args); err != nil {
			return nil, err
		}
		return a.SetSystemProxy(args.Enabled)
	},
	"get_proxy_status": func(a *Application, _ json.RawMessage) (any, error) {
		return a.GetProxyStatus(), nil
	},
	"get_app_version": func(a *Application, _ json.RawMessage) (any, error) {
		return a.GetAppVersion(), nil
	},
}

// Commands returns the names accepted by Invoke, sorted.
func Commands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named command with a JSON object of arguments.
func (a *Application) Invoke(name string, args json.RawMessage) (any, error) {
	cmd, ok := commands[name]
	if !ok {
		return nil, state.Errorf(state.ErrorKindNotFound, "unknown command %q", name)
	}
	a.logger.Debugf("invoke %s", name)
	return cmd(a, args)
}

func decodeArgs(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return state.NewError(state.ErrorKindSerializationFailed, "decode arguments", err)
	}
	return nil
}
