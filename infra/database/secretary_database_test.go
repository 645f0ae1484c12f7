package database

import "testing"

func TestSimpleProtocolURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db/x", "postgres://u:p@db/x?default_query_exec_mode=simple_protocol"},
		{"postgres://u:p@db/x?sslmode=disable", "postgres://u:p@db/x?sslmode=disable&default_query_exec_mode=simple_protocol"},
		{"postgres://db/x?default_query_exec_mode=exec", "postgres://db/x?default_query_exec_mode=exec"},
	}
	for _, tt := range tests {
		if got := simpleProtocolURL(tt.in); got != tt.want {
			t.Errorf("simpleProtocolURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
