package main

import (
	"bytes"
	"strings"
	"testing"
)

func runRootCommandForTest(args ...string) (string, error) {
	root := buildRootCommand()
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootHelpListsCommands(t *testing.T) {
	output, err := runRootCommandForTest("--help")
	if err != nil {
		t.Fatalf("execute --help: %v\nOutput:\n%s", err, output)
	}

	for _, cmd := range []string{"onboard", "serve", "chat", "memory", "compress", "status", "version"} {
		if !strings.Contains(output, cmd) {
			t.Errorf("root help is missing the %q command:\n%s", cmd, output)
		}
	}
}

func TestMemoryHelpListsSubcommands(t *testing.T) {
	output, err := runRootCommandForTest("memory", "--help")
	if err != nil {
		t.Fatalf("execute memory --help: %v\nOutput:\n%s", err, output)
	}

	for _, cmd := range []string{"list", "save", "search", "get", "update", "delete"} {
		if !strings.Contains(output, cmd) {
			t.Errorf("memory help is missing the %q subcommand:\n%s", cmd, output)
		}
	}
}

func TestRootWithoutSubcommandFails(t *testing.T) {
	_, err := runRootCommandForTest()
	if err == nil {
		t.Fatal("expected an error when no subcommand is given")
	}
}

func TestCompressRequiresUserFlag(t *testing.T) {
	_, err := runRootCommandForTest("compress")
	if err == nil {
		t.Fatal("expected an error when --user is missing")
	}
	if !strings.Contains(err.Error(), "user") {
		t.Fatalf("error should mention the missing user flag, got: %v", err)
	}
}
