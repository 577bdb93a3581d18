package main

import (
	"testing"

	"github.com/wolfman30/clinic-booking-assistant/pkg/logging"
)

func TestParseArgs(t *testing.T) {
	cases := []struct {
		args    []string
		cmd     string
		arg     int
		wantErr bool
	}{
		{args: nil, cmd: "up"},
		{args: []string{"up"}, cmd: "up"},
		{args: []string{"version"}, cmd: "version"},
		{args: []string{"down"}, cmd: "down", arg: 1},
		{args: []string{"down", "2"}, cmd: "down", arg: 2},
		{args: []string{"down", "0"}, wantErr: true},
		{args: []string{"force", "3"}, cmd: "force", arg: 3},
		{args: []string{"force"}, wantErr: true},
		{args: []string{"force", "x"}, wantErr: true},
		{args: []string{"drop"}, wantErr: true},
	}
	for _, tc := range cases {
		cmd, arg, err := parseArgs(tc.args)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%v: expected error", tc.args)
			}
			continue
		}
		if err != nil || cmd != tc.cmd || arg != tc.arg {
			t.Fatalf("%v: got %q %d %v, want %q %d", tc.args, cmd, arg, err, tc.cmd, tc.arg)
		}
	}
}

func TestRunRequiresDatabaseURL(t *testing.T) {
	if err := run("", nil, logging.New("error")); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}
