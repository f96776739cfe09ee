package envelope

import "testing"

func TestNormalizeTag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Echo", "echo"},
		{"ECHO", "echo"},
		{"EchoDto", "echo"},
		{"echodto", "echo"},
		{"  EchoDTO ", "echo"},
		{"Dto", "dto"},
		{"", ""},
		{"ClientWantsToBroadcast", "clientwantstobroadcast"},
	}
	for _, tt := range tests {
		if got := NormalizeTag(tt.in); got != tt.want {
			t.Errorf("NormalizeTag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameTag(t *testing.T) {
	if !SameTag("EchoReplyDto", "echoreply") {
		t.Error("expected suffix-insensitive match")
	}
	if SameTag("Echo", "EchoReply") {
		t.Error("expected distinct tags to differ")
	}
}

type PingDto struct{}

func TestTagOf(t *testing.T) {
	if got := TagOf(&PingDto{}); got != "PingDto" {
		t.Errorf("TagOf(pointer) = %q", got)
	}
	if got := TagOf(PingDto{}); got != "PingDto" {
		t.Errorf("TagOf(value) = %q", got)
	}
	if got := TagOf(nil); got != "" {
		t.Errorf("TagOf(nil) = %q", got)
	}
}
