// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"errors"
	"slices"
	"testing"
)

func TestTokenize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		line       string
		wantArgv   []string
		wantSimple bool
		wantErr    bool
	}{
		{name: "single word", line: "ls", wantArgv: []string{"ls"}, wantSimple: true},
		{name: "flags", line: "ls -la /etc", wantArgv: []string{"ls", "-la", "/etc"}, wantSimple: true},
		{name: "extra whitespace", line: "  ps   aux  ", wantArgv: []string{"ps", "aux"}, wantSimple: true},
		{name: "single quotes", line: "grep 'Listen 80' /etc/apache2/ports.conf", wantArgv: []string{"grep", "Listen 80", "/etc/apache2/ports.conf"}, wantSimple: true},
		{name: "double quotes", line: `echo "hello world"`, wantArgv: []string{"echo", "hello world"}, wantSimple: true},
		{name: "escaped space", line: `cat my\ file`, wantArgv: []string{"cat", "my file"}, wantSimple: true},
		{name: "mixed quoting", line: `echo a"b c"'d'`, wantArgv: []string{"echo", "ab cd"}, wantSimple: true},
		{name: "escaped glob is literal", line: `ls \*`, wantArgv: []string{"ls", "*"}, wantSimple: true},
		{name: "quoted glob is literal", line: `ls '*.log'`, wantArgv: []string{"ls", "*.log"}, wantSimple: true},
		{name: "pipeline", line: "ps aux | grep nginx"},
		{name: "redirect", line: "echo hi > /tmp/x"},
		{name: "list", line: "cd /tmp && ls"},
		{name: "variable", line: "echo $HOME"},
		{name: "variable in double quotes", line: `echo "$HOME"`},
		{name: "command substitution", line: "echo $(id -u)"},
		{name: "glob", line: "ls /var/log/*.log"},
		{name: "tilde", line: "ls ~"},
		{name: "assignment", line: "FOO=bar env"},
		{name: "unterminated quote", line: `echo "oops`, wantErr: true},
		{name: "empty", line: "", wantErr: true},
		{name: "comment only", line: "# nothing", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			argv, simple, err := Tokenize(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Tokenize(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			}
			if simple != tt.wantSimple {
				t.Errorf("Tokenize(%q) simple = %v, want %v", tt.line, simple, tt.wantSimple)
			}
			if !slices.Equal(argv, tt.wantArgv) {
				t.Errorf("Tokenize(%q) argv = %q, want %q", tt.line, argv, tt.wantArgv)
			}
		})
	}
}

func TestTokenize_EmptyIsSentinel(t *testing.T) {
	t.Parallel()

	if _, _, err := Tokenize("   "); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Tokenize(blank) error = %v, want ErrEmptyCommand", err)
	}
}
