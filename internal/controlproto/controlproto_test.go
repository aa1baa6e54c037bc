package controlproto

import "testing"

func TestParseReplayRequest(t *testing.T) {
	f := Parse("__replay__")
	if f.Kind != KindReplayRequest {
		t.Errorf("Kind = %v, want KindReplayRequest", f.Kind)
	}
}

func TestParseBrowserDisconnected(t *testing.T) {
	f := Parse("__browser_disconnected__")
	if f.Kind != KindBrowserDisconnected {
		t.Errorf("Kind = %v, want KindBrowserDisconnected", f.Kind)
	}
}

func TestParseResizeBoundaries(t *testing.T) {
	cases := []struct {
		text string
		want Kind
	}{
		{"__resize__:10,5", KindResize},
		{"__resize__:1000,500", KindResize},
		{"__resize__:9,5", KindInput},
		{"__resize__:10,4", KindInput},
		{"__resize__:1001,500", KindInput},
		{"__resize__:abc,5", KindInput},
	}
	for _, c := range cases {
		f := Parse(c.text)
		if f.Kind != c.want {
			t.Errorf("Parse(%q).Kind = %v, want %v", c.text, f.Kind, c.want)
		}
	}
}

func TestParseResizeValues(t *testing.T) {
	f := Parse("__resize__:80,24")
	if f.Kind != KindResize || f.Cols != 80 || f.Rows != 24 {
		t.Errorf("Parse() = %+v, want cols=80 rows=24", f)
	}
}

func TestParseCommandValid(t *testing.T) {
	f := Parse("__cmd__:a.b-c_1:payload")
	if f.Kind != KindCommand {
		t.Fatalf("Kind = %v, want KindCommand", f.Kind)
	}
	if f.Name != "a.b-c_1" || f.Payload != "payload" {
		t.Errorf("Name=%q Payload=%q, want a.b-c_1 / payload", f.Name, f.Payload)
	}
}

func TestParseCommandNoPayload(t *testing.T) {
	f := Parse("__cmd__:ping")
	if f.Kind != KindCommand || f.Name != "ping" || f.Payload != "" {
		t.Errorf("Parse() = %+v, want name=ping no payload", f)
	}
}

func TestParseCommandInvalidName(t *testing.T) {
	f := Parse("__cmd__:a/b")
	if f.Kind != KindInput {
		t.Errorf("Kind = %v, want KindInput for invalid command name", f.Kind)
	}
}

func TestParseCommandPayloadTooLarge(t *testing.T) {
	big := make([]byte, MaxPayloadBytes+1)
	for i := range big {
		big[i] = 'x'
	}
	f := Parse("__cmd__:ok:" + string(big))
	if f.Kind != KindInput {
		t.Errorf("Kind = %v, want KindInput for oversize payload", f.Kind)
	}
}

func TestParseUnknownIsInput(t *testing.T) {
	f := Parse("ls -la\r")
	if f.Kind != KindInput || f.Input != "ls -la\r" {
		t.Errorf("Parse() = %+v, want passthrough input", f)
	}
}

func TestSanitizeReasonDefaultsWhenEmpty(t *testing.T) {
	if got := SanitizeReason(""); got != reasonDefault {
		t.Errorf("SanitizeReason(\"\") = %q, want default", got)
	}
	if got := SanitizeReason("\x01\x02"); got != reasonDefault {
		t.Errorf("SanitizeReason(control-only) = %q, want default", got)
	}
}

func TestSanitizeReasonTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 200; i++ {
		long += "a"
	}
	got := SanitizeReason(long)
	if len(got) != MaxReasonChars {
		t.Errorf("len(SanitizeReason(long)) = %d, want %d", len(got), MaxReasonChars)
	}
}

func TestBuildParseRoundTrip(t *testing.T) {
	cases := []string{
		BuildReplayRequest(),
		BuildBrowserDisconnected(),
		BuildResize(80, 24),
		BuildCommand("ping", "hello"),
		BuildCommand("ping", ""),
	}
	wantKinds := []Kind{KindReplayRequest, KindBrowserDisconnected, KindResize, KindCommand, KindCommand}

	for i, text := range cases {
		f := Parse(text)
		if f.Kind != wantKinds[i] {
			t.Errorf("round trip %q: Kind = %v, want %v", text, f.Kind, wantKinds[i])
		}
	}
}

func TestParseDisconnectBrowser(t *testing.T) {
	f := Parse("__disconnect_browser__:Session taken over by local viewer")
	if f.Kind != KindDisconnectBrowser {
		t.Fatalf("Kind = %v, want KindDisconnectBrowser", f.Kind)
	}
	if f.Reason != "Session taken over by local viewer" {
		t.Errorf("Reason = %q", f.Reason)
	}
}
