package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	for _, name := range []string{"serve", "worker", "migrate", "healthcheck", "adduser", "token", "report"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %q not registered (err=%v)", name, err)
		}
	}
}

func TestNewRootCommand_UnknownCommand(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Run(frobnicate) err = %v, want unknown command", err)
	}
}

func TestTokenCommand_RequiresUserID(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"token"}); err == nil {
		t.Error("token without user id should fail")
	}
}

func TestAddUserCommand_RequiresEmail(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"adduser", "--name", "Coach"})
	if err == nil || !strings.Contains(err.Error(), "email") {
		t.Errorf("adduser without --email err = %v", err)
	}
}

func TestSkipsConfig(t *testing.T) {
	root := NewRootCommand(&bytes.Buffer{})

	hc, _, _ := root.Find([]string{"healthcheck"})
	if !skipsConfig(hc) {
		t.Error("healthcheck should not require config")
	}
	serve, _, _ := root.Find([]string{"serve"})
	if skipsConfig(serve) {
		t.Error("serve should require config")
	}
}
