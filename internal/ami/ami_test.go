package ami

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

const originateFlow = "Asterisk Call Manager/5.0.1\r\n" +
	"Response: Success\r\n" +
	"ActionID: a1\r\n" +
	"Message: Authentication accepted\r\n" +
	"\r\n" +
	"Event: Newchannel\r\n" +
	"Channel: PJSIP/trunk-00000001\r\n" +
	"Uniqueid: 3f0c\r\n" +
	"\r\n" +
	"Event: OriginateResponse\r\n" +
	"ActionID: a2\r\n" +
	"Response: Success\r\n" +
	"Uniqueid: 3f0c\r\n" +
	"Reason: 4\r\n" +
	"\r\n" +
	"Event: Hangup\r\n" +
	"Uniqueid: 3f0c\r\n" +
	"Cause: 16\r\n" +
	"Cause-txt: Normal Clearing\r\n"

func TestParseBytes_OriginateFlow(t *testing.T) {
	events := ParseBytes([]byte(originateFlow))
	if len(events) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(events))
	}

	if !events[0].IsResponse() || !events[0].Success() || events[0].ActionID() != "a1" {
		t.Fatalf("expected login response first, got %+v", events[0])
	}
	if events[1].Type() != "Newchannel" || events[1].Get("Channel") != "PJSIP/trunk-00000001" {
		t.Fatalf("unexpected Newchannel: %+v", events[1])
	}
	if events[2].IsResponse() {
		t.Fatalf("OriginateResponse is an event, not a response")
	}
	if events[2].GetInt("Reason") != 4 {
		t.Fatalf("expected Reason=4, got %d", events[2].GetInt("Reason"))
	}
	if events[3].Type() != "Hangup" || events[3].GetInt("Cause") != 16 {
		t.Fatalf("unexpected trailing Hangup without blank line: %+v", events[3])
	}
}

func TestParser_EOF(t *testing.T) {
	p := NewParser(strings.NewReader("Asterisk Call Manager/5.0.1\r\n\r\n"))
	if _, err := p.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestAction_Encode(t *testing.T) {
	a := NewAction("Originate").
		Set("Channel", "PJSIP/+15551234@trunk").
		Set("CallerID", "").
		Set("Async", "true").
		Vars(map[string]string{"b": "2", "a": "1"})

	got := string(a.Encode("id-1"))
	want := "Action: Originate\r\n" +
		"ActionID: id-1\r\n" +
		"Channel: PJSIP/+15551234@trunk\r\n" +
		"Async: true\r\n" +
		"Variable: a=1\r\n" +
		"Variable: b=2\r\n" +
		"\r\n"
	if got != want {
		t.Fatalf("unexpected encoding:\n%q\nwant\n%q", got, want)
	}
}

func TestAction_EncodeStripsLineBreaks(t *testing.T) {
	got := string(NewAction("Login").Set("Username", "bob\r\nAction: Logoff").Encode(""))
	if strings.Count(got, "Action:") != 1 {
		t.Fatalf("header injection not prevented: %q", got)
	}
}

func TestClient_CorrelatesResponsesAndEvents(t *testing.T) {
	server, conn := net.Pipe()
	events := make(chan Event, 4)
	closed := make(chan error, 1)
	c := NewClient(conn, func(e Event) { events <- e }, func(err error) { closed <- err })

	go func() {
		_, _ = server.Write([]byte("Asterisk Call Manager/5.0.1\r\n"))
		p := NewParser(server)
		act, err := p.Next()
		if err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if act.Get("Action") != "Login" || act.Get("Username") != "dialer" {
			t.Errorf("unexpected action: %+v", act)
		}
		_, _ = fmt.Fprintf(server, "Response: Success\r\nActionID: %s\r\nMessage: Authentication accepted\r\n\r\n", act.ActionID())
		_, _ = server.Write([]byte("Event: FullyBooted\r\nStatus: Fully Booted\r\n\r\n"))
	}()

	responses := make(chan Event, 1)
	if _, err := c.Send(NewAction("Login").Set("Username", "dialer").Set("Secret", "pw"), func(e Event) { responses <- e }); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case r := <-responses:
		if !r.Success() {
			t.Fatalf("expected success, got %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no response")
	}
	select {
	case e := <-events:
		if e.Type() != "FullyBooted" {
			t.Fatalf("unexpected event %q", e.Type())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event")
	}

	_ = server.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("onClose not called")
	}
	if _, err := c.Send(NewAction("Ping"), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}
