package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arc-self/sysrecorder/internal/event"
)

func TestPipeline_SelfFilter(t *testing.T) {
	p := New(Identity{Pid: 999, BinaryPath: `C:\agent\agent.exe`, IdlePid: 4})

	assert.False(t, p.AllowPre(999), "agent's own pid must be dropped pre-decode")
	assert.False(t, p.AllowPre(4), "idle/system pid must be dropped pre-decode")
	assert.True(t, p.AllowPre(100))

	systemEvent := &event.TypedEvent{Code: event.FileCreate, Metadata: map[string]string{"User": `NT AUTHORITY\SYSTEM`}}
	assert.False(t, p.AllowPost(systemEvent))

	agentImageEvent := &event.TypedEvent{Code: event.ProcessCreation, Metadata: map[string]string{"Image": `C:\agent\agent.exe`}}
	assert.False(t, p.AllowPost(agentImageEvent))

	benign := &event.TypedEvent{Code: event.ProcessCreation, Metadata: map[string]string{"Image": `C:\Windows\notepad.exe`, "User": "alice"}}
	assert.True(t, p.AllowPost(benign))

	accessToAgent := &event.TypedEvent{
		Code:     event.ProcessAccess,
		Metadata: map[string]string{"TargetProcessId": "999", "User": "alice"},
	}
	assert.False(t, p.AllowPost(accessToAgent))
}
