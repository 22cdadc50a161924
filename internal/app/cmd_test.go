package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker with extra args", []string{"worker", "--flag"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"help flag", []string{"--help"}, CommandHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_Unknown(t *testing.T) {
	_, err := ParseCommand([]string{"fetch"})
	if err == nil || !strings.Contains(err.Error(), `"fetch"`) {
		t.Errorf("ParseCommand([fetch]) error = %v", err)
	}
}

func TestUsage_ListsEveryCommand(t *testing.T) {
	var buf bytes.Buffer
	Usage(&buf)
	for _, c := range commands {
		if !strings.Contains(buf.String(), string(c.cmd)) {
			t.Errorf("usage does not mention %q", c.cmd)
		}
	}
}
