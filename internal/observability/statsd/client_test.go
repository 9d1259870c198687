package statsd

import (
	"net"
	"strings"
	"testing"
	"time"
)

func TestSanitizePrefix(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"  sessionkit.app  ": "sessionkit.app",
		"..foo..":            "foo",
		".":                  "",
		"":                   "",
	}

	for input, want := range tests {
		if got := sanitizePrefix(input); got != want {
			t.Fatalf("sanitizePrefix(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNormalizeMetricName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		" session/transition ": "session_transition",
		"foo..bar":             "foo.bar",
		"multi  space":         "multi__space",
		"bad:name|x#y":         "bad_name_x_y",
	}

	for input, want := range tests {
		if got := normalizeMetricName(input); got != want {
			t.Fatalf("normalizeMetricName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFormatTags(t *testing.T) {
	t.Parallel()

	global := map[string]string{
		"env": "prod",
		//nolint:gocritic // whitespace is part of the test case
		" service ": " engaged ",
	}
	local := map[string]string{
		"result": " ok ",
		"":       "ignored",
		"env":    "stage",
	}

	got := formatTags(global, local)
	want := "|#env:stage,result:ok,service:engaged"
	if got != want {
		t.Fatalf("formatTags mismatch\n got: %q\nwant: %q", got, want)
	}

	if got := formatTags(nil, nil); got != "" {
		t.Fatalf("formatTags(nil, nil) = %q, want empty string", got)
	}
}

func TestEncoderLine(t *testing.T) {
	t.Parallel()

	enc := newEncoder("sessionkit.", map[string]string{"env": "dev"})
	line, ok := enc.line("session.transition", "1", "c", map[string]string{"phase": "anonymous"})
	if !ok {
		t.Fatal("expected a line")
	}
	want := "sessionkit.session.transition:1|c|#env:dev,phase:anonymous"
	if line != want {
		t.Fatalf("line = %q, want %q", line, want)
	}

	if _, ok := enc.line("  ", "1", "c", nil); ok {
		t.Fatal("blank metric names must be dropped")
	}
}

func TestClientWritesOverUDP(t *testing.T) {
	t.Parallel()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer pc.Close()

	client, err := NewClient(Config{Enabled: true, Address: pc.LocalAddr().String(), Prefix: "sk"})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	defer client.Close()

	if !client.Enabled() {
		t.Fatal("expected client to be enabled")
	}
	client.Timing("logout.duration", 1500*time.Millisecond, nil)

	buf := make([]byte, 512)
	_ = pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "sk.logout.duration:1500|ms" {
		t.Fatalf("unexpected packet %q", got)
	}
}

func TestClientClose(t *testing.T) {
	t.Parallel()

	clientConn, peerConn := net.Pipe()
	defer peerConn.Close()

	client := &Client{conn: clientConn}
	if !client.Enabled() {
		t.Fatal("expected client.Enabled to report true with active connection")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if client.Enabled() {
		t.Fatal("expected client.Enabled to report false after Close")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close (second call) error: %v", err)
	}
	// Writes after Close are dropped silently.
	client.Count("x", 1, nil)

	var nilClient *Client
	if nilClient.Enabled() {
		t.Fatal("nil client should report disabled")
	}
	nilClient.Count("x", 1, nil)
	if err := nilClient.Close(); err != nil {
		t.Fatalf("nil client Close error: %v", err)
	}
}

func TestNewClientDisabledWithoutAddress(t *testing.T) {
	t.Parallel()

	client, err := NewClient(Config{Enabled: true, Address: "   "})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if client.Enabled() {
		t.Fatal("expected client to stay disabled when address is empty")
	}
}

func TestNewClientDialError(t *testing.T) {
	t.Parallel()

	_, err := NewClient(Config{Enabled: true, Address: "bad address"})
	if err == nil {
		t.Fatal("expected NewClient to error for invalid address")
	}
	if !strings.Contains(err.Error(), "statsd dial") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRecorderAndTee(t *testing.T) {
	t.Parallel()

	a, b := &Recorder{}, &Recorder{}
	sink := Tee{a, nil, b}
	sink.Count("admin.check", 1, map[string]string{"result": "allowed"})
	sink.Count("admin.check", 2, map[string]string{"result": "denied"})
	sink.Gauge("subscribers", 3, nil)
	sink.Timing("enrich.duration", 2*time.Second, nil)

	if got := a.Total("admin.check", nil); got != 3 {
		t.Fatalf("Total = %d, want 3", got)
	}
	if got := b.Total("admin.check", map[string]string{"result": "denied"}); got != 2 {
		t.Fatalf("Total(denied) = %d, want 2", got)
	}
	samples := a.Samples()
	if len(samples) != 4 {
		t.Fatalf("len(samples) = %d, want 4", len(samples))
	}
	if samples[3].Kind != "ms" || samples[3].Value != 2000 {
		t.Fatalf("unexpected timing sample %+v", samples[3])
	}
}
