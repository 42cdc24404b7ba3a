package app

import (
	"testing"
)

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{
		"search", "install", "upgrade", "rollback", "snapshot",
		"trace", "doctor", "orphans", "tap", "config", "keys",
		"list", "log",
	}
	have := make(map[string]bool)
	for _, c := range RootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestSubcommandGroupsHaveChildren(t *testing.T) {
	groups := map[string][]string{
		"snapshot": {"create", "prune", "export", "import"},
		"tap":      {"add", "remove", "sync", "list"},
		"keys":     {"generate", "import", "list", "sign", "verify"},
		"config":   {"get", "set", "list"},
	}
	for _, c := range RootCmd.Commands() {
		subs, ok := groups[c.Name()]
		if !ok {
			continue
		}
		have := make(map[string]bool)
		for _, sub := range c.Commands() {
			have[sub.Name()] = true
		}
		for _, name := range subs {
			if !have[name] {
				t.Errorf("%s is missing subcommand %q", c.Name(), name)
			}
		}
		delete(groups, c.Name())
	}
	for name := range groups {
		t.Errorf("command group %q not registered", name)
	}
}

func TestPersistentFlags(t *testing.T) {
	for _, name := range []string{"debug", "verbose", "config"} {
		if RootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("persistent flag --%s missing", name)
		}
	}
	if f := RootCmd.PersistentFlags().ShorthandLookup("v"); f == nil || f.Name != "verbose" {
		t.Error("-v shorthand not bound to --verbose")
	}
}
