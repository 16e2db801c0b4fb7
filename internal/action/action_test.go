// internal/action/action_test.go
package action

import (
	"context"
	"testing"
	"time"

	"github.com/colebrumley/tapguard/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	cmd := Build(config.Action{
		Command: "/usr/bin/notify",
		Args:    []string{"--file", "{{file_path}}", "{{missing}}"},
		WorkDir: "/srv/{{rule}}",
		Env:     map[string]string{"B": "2", "A": "{{event_type}}"},
	}, "", Invocation{
		Rule:      "save",
		AttemptID: "id-1",
		EventType: "manual",
		Data: map[string]any{
			"file_path":  "/tmp/a.txt",
			"rule":       "save",
			"event_type": "manual",
		},
	})

	assert.Equal(t, "/usr/bin/notify", cmd.Path)
	assert.Equal(t, []string{"--file", "/tmp/a.txt", "{{missing}}"}, cmd.Args)
	assert.Equal(t, "/srv/save", cmd.Dir)
	assert.Equal(t, DefaultTimeout, cmd.Timeout)
	assert.Equal(t, []string{
		"A=manual",
		"B=2",
		"TAPGUARD_RULE=save",
		"TAPGUARD_ATTEMPT_ID=id-1",
		"TAPGUARD_EVENT_TYPE=manual",
	}, cmd.Env)
}

func TestBuild_IdentityEnvIgnoresData(t *testing.T) {
	cmd := Build(config.Action{Command: "/bin/true"}, "", Invocation{
		Rule:      "save",
		AttemptID: "id-1",
		EventType: "manual",
		Data:      map[string]any{"rule": "admin", "attempt_id": "forged", "event_type": "scheduled"},
	})

	assert.Equal(t, []string{
		"TAPGUARD_RULE=save",
		"TAPGUARD_ATTEMPT_ID=id-1",
		"TAPGUARD_EVENT_TYPE=manual",
	}, cmd.Env)
}

func TestBuild_RunAsUser(t *testing.T) {
	cmd := Build(config.Action{Command: "backup", Args: []string{"-v"}, TimeoutSeconds: 7}, "svc", Invocation{})
	assert.Equal(t, "sudo", cmd.Path)
	assert.Equal(t, []string{"-u", "svc", "--", "backup", "-v"}, cmd.Args)
	assert.Equal(t, 7*time.Second, cmd.Timeout)
}

func TestCommand_String(t *testing.T) {
	cmd := Command{Path: "echo", Args: []string{"plain", "two words", "it's", ""}}
	assert.Equal(t, `echo plain 'two words' 'it'\''s' ''`, cmd.String())
}

func TestRun_Success(t *testing.T) {
	res, err := Run(context.Background(), config.Action{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo hello $WHO $TAPGUARD_RULE"},
		Env:     map[string]string{"WHO": "{{who}}"},
	}, "", Invocation{Rule: "greet", Data: map[string]any{"who": "world"}}, false)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, "hello world greet\n", res.Output)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
}

func TestRun_Failure(t *testing.T) {
	res, err := Run(context.Background(), config.Action{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo oops; exit 3"},
	}, "", Invocation{}, false)
	require.NoError(t, err)

	assert.Equal(t, StateFailure, res.State)
	assert.Contains(t, res.Error, "exit status 3")
	assert.Equal(t, "oops\n", res.Output)
	assert.Error(t, res.Err())
}

func TestRun_CommandNotFound(t *testing.T) {
	res, err := Run(context.Background(), config.Action{Command: "/no/such/binary"}, "", Invocation{}, false)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, res.State)
}

func TestRun_Timeout(t *testing.T) {
	res, err := Run(context.Background(), config.Action{
		Command:        "/bin/sh",
		Args:           []string{"-c", "exec sleep 5"},
		TimeoutSeconds: 1,
	}, "", Invocation{}, false)
	require.NoError(t, err)
	assert.Equal(t, StateTimeout, res.State)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	res, err := Run(ctx, config.Action{Command: "/bin/sh", Args: []string{"-c", "exec sleep 5"}}, "", Invocation{}, false)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, res.State)
}

func TestRun_DryRun(t *testing.T) {
	res, err := Run(context.Background(), config.Action{
		Command: "rm",
		Args:    []string{"-rf", "{{file_path}}"},
	}, "", Invocation{Data: map[string]any{"file_path": "/tmp/x"}}, true)
	require.NoError(t, err)
	assert.Equal(t, StateDryRun, res.State)
	assert.Equal(t, "rm -rf /tmp/x", res.Output)
	assert.True(t, res.OK())
}

func TestRun_ScrubsOutput(t *testing.T) {
	res, err := Run(context.Background(), config.Action{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo password=hunter2"},
	}, "", Invocation{}, false)
	require.NoError(t, err)
	assert.NotContains(t, res.Output, "hunter2")
}

func TestRun_NoCommand(t *testing.T) {
	_, err := Run(context.Background(), config.Action{}, "", Invocation{}, true)
	assert.Error(t, err)
}
