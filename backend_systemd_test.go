package svcd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

const systemctlShowOutput = `Id=web.service
LoadState=loaded
ActiveState=active
SubState=running
MainPID=812
Result=success

Id=ghost.service
LoadState=not-found
ActiveState=inactive
SubState=dead
MainPID=0
Result=success

Id=cron.service
LoadState=loaded
ActiveState=failed
SubState=failed
MainPID=0
Result=exit-code
`

func TestParseSystemctlShow(t *testing.T) {
	props := parseSystemctlShow(systemctlShowOutput)
	require.Len(t, props, 3)
	assert.Equal(t, "812", props["web.service"]["MainPID"])

	assert.Equal(t, Sample{State: StateRunning, ExtStatus: "pid 812"}, props["web.service"].Sample())
	assert.Equal(t, Sample{State: StateNotAvailable, ExtStatus: "unit not found"}, props["ghost.service"].Sample())
	assert.Equal(t, Sample{State: StateDead, ExtStatus: "exit-code"}, props["cron.service"].Sample())

	assert.Empty(t, parseSystemctlShow(""))
	assert.Empty(t, parseSystemctlShow("LoadState=loaded\n"), "blocks without Id are dropped")
}

func TestUnitPropertiesSample(t *testing.T) {
	tests := []struct {
		props unitProperties
		want  Sample
	}{
		{unitProperties{"ActiveState": "active", "SubState": "exited", "MainPID": "0"}, Sample{State: StateRunning, ExtStatus: "exited"}},
		{unitProperties{"ActiveState": "reloading", "MainPID": "5"}, Sample{State: StateRunning, ExtStatus: "pid 5"}},
		{unitProperties{"ActiveState": "activating", "SubState": "start-pre"}, Sample{State: StateStarting, ExtStatus: "start-pre"}},
		{unitProperties{"ActiveState": "deactivating", "SubState": "stop-sigterm"}, Sample{State: StateStopping, ExtStatus: "stop-sigterm"}},
		{unitProperties{"ActiveState": "inactive", "SubState": "dead"}, Sample{State: StateNotRunning}},
		{unitProperties{"ActiveState": "maintenance", "SubState": "x"}, Sample{State: StateNotAvailable, ExtStatus: "maintenance/x"}},
	}
	for _, tt := range tests {
		t.Run(tt.props["ActiveState"], func(t *testing.T) {
			assert.Equal(t, tt.want, tt.props.Sample())
		})
	}
}

// fakeSystemctl emulates "systemctl show", "start" and "stop" for the units
// web and ghost, keeping web's state in a file
func fakeSystemctl(t *testing.T) string {
	dir := t.TempDir()
	state := filepath.Join(dir, "state")
	return writeScript(t, filepath.Join(dir, "systemctl"), fmt.Sprintf(`state=%s
case "$1" in
show)
	shift 3
	for u in "$@"; do
		echo "Id=$u"
		if [ "$u" = ghost.service ]; then
			echo LoadState=not-found
			echo ActiveState=inactive
		elif [ -f "$state" ]; then
			echo LoadState=loaded
			echo ActiveState=active
			echo MainPID=123
		else
			echo LoadState=loaded
			echo ActiveState=inactive
		fi
		echo
	done
	;;
start)
	echo "starting $2"
	sleep 0.5
	touch "$state"
	;;
stop)
	rm -f "$state"
	;;
*)
	echo "unknown verb $1" >&2
	exit 1
	;;
esac
`, state))
}

func newTestSystemd(t *testing.T, opts map[string]any) *SystemdBackend {
	t.Helper()
	cfg, err := NewJobConfig("sd", JobTypeSystemd, opts)
	require.NoError(t, err)
	b, err := NewSystemdBackend(BackendParams{Name: "sd", Config: cfg, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return b.(*SystemdBackend)
}

func TestSystemdBackend(t *testing.T) {
	b := newTestSystemd(t, map[string]any{
		"units":     []string{"web.service", "ghost"},
		"systemctl": fakeSystemctl(t),
	})
	ctx := context.Background()
	web := ServiceID{Service: "web"}
	ghost := ServiceID{Service: "ghost"}
	assert.Equal(t, []ServiceID{web, ghost}, b.Services())
	assert.Equal(t, "web.service", b.ServiceDescription(web))

	all, err := b.AllServiceStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[ServiceID]Sample{
		web:   {State: StateNotRunning},
		ghost: {State: StateNotAvailable, ExtStatus: "unit not found"},
	}, all)

	require.NoError(t, b.StartService(ctx, web))
	s, err := b.ServiceStatus(ctx, web)
	require.NoError(t, err)
	assert.Equal(t, StateStarting, s.State)

	err = b.StopService(ctx, web)
	assert.Equal(t, KindBusy, ErrorKind(err))

	ac, ok := b.slots.Current("web.service")
	require.True(t, ok)
	res, err := ac.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	s, err = b.ServiceStatus(ctx, web)
	require.NoError(t, err)
	assert.Equal(t, Sample{State: StateRunning, ExtStatus: "pid 123"}, s)
	assert.Equal(t, []string{"starting web.service"}, b.ServiceOutput(web))

	_, err = b.ServiceStatus(ctx, ServiceID{Service: "cron"})
	assert.ErrorIs(t, err, ErrNoSuchService)
}

func TestSystemdBackendSudo(t *testing.T) {
	b := newTestSystemd(t, map[string]any{"units": []string{"web"}, "sudo": true, "timeout": "5s"})
	spec := b.systemctl("start", "web.service")
	assert.Equal(t, "sudo", spec.Path)
	assert.Equal(t, []string{"-n", "systemctl", "start", "web.service"}, spec.Args)
	assert.Equal(t, 5*time.Second, spec.Timeout)
}

func TestSystemdBackendOptions(t *testing.T) {
	cfg, err := NewJobConfig("sd", JobTypeSystemd, map[string]any{})
	require.NoError(t, err)
	_, err = NewSystemdBackend(BackendParams{Name: "sd", Config: cfg, Logger: zerolog.Nop()})
	assert.Error(t, err)

	cfg, err = NewJobConfig("sd", JobTypeSystemd, map[string]any{"units": []string{"web", "web.service"}})
	require.NoError(t, err)
	_, err = NewSystemdBackend(BackendParams{Name: "sd", Config: cfg, Logger: zerolog.Nop()})
	assert.Error(t, err, "the same unit twice")
}
