package utils

import (
	"strings"
	"testing"
)

func TestLinkHosts(t *testing.T) {
	hosts := LinkHosts("free stuff https://Example.com/path?x=1 and http://example.com/other https://пример.рф/a")
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %v", hosts)
	}
	if hosts[0] != "example.com" {
		t.Fatalf("unexpected first host: %s", hosts[0])
	}
	if hosts[1] != "xn--e1afmkfd.xn--p1ai" {
		t.Fatalf("unexpected idna host: %s", hosts[1])
	}
}

func TestPreviewNeutralizesFences(t *testing.T) {
	preview := Preview("```@everyone```", 300)
	if strings.Contains(preview, "`") {
		t.Fatalf("fence not neutralized: %q", preview)
	}
}

func TestPreviewTruncatesRunes(t *testing.T) {
	preview := Preview(strings.Repeat("ж", 310), 300)
	if got := len([]rune(preview)); got != 301 {
		t.Fatalf("expected 300 runes plus ellipsis, got %d", got)
	}
}
