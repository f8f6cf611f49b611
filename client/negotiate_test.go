package client

import (
	"net"
	"testing"
	"time"

	"seedlink/streams"
	"seedlink/transport"
)

func TestCheckVersion(t *testing.T) {
	c := New("t", "")
	c.serverMajor, c.serverMinor = 3, 1

	cases := []struct {
		major, minor uint8
		want         bool
	}{
		{2, 5, true},
		{2, 92, true},
		{3, 0, true},
		{3, 1, true},
		{3, 2, false},
		{4, 0, false},
	}
	for _, tc := range cases {
		if got := c.checkVersion(tc.major, tc.minor); got != tc.want {
			t.Fatalf("checkVersion(%d, %d) = %v, want %v", tc.major, tc.minor, got, tc.want)
		}
	}

	c.serverMajor, c.serverMinor = 0, 0
	if c.checkVersion(2, 5) {
		t.Fatal("unknown server version must fail version checks")
	}
}

func TestActionCommand(t *testing.T) {
	c := New("t", "")
	c.serverMajor, c.serverMinor = 3, 1

	s := &streams.Stream{NetStaID: "IU_ANMO", SeqNum: streams.UnsetSequence}

	cmd, err := c.actionCommand(s)
	if err != nil || cmd != "DATA" {
		t.Fatalf("actionCommand = (%q, %v)", cmd, err)
	}

	c.Dialup = true
	cmd, _ = c.actionCommand(s)
	if cmd != "FETCH" {
		t.Fatalf("dialup actionCommand = %q", cmd)
	}
	c.Dialup = false

	s.SeqNum = 10
	s.Timestamp = "2023-06-15T12:00:00.0000Z"
	cmd, err = c.actionCommand(s)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "DATA 000000000000000B 2023,06,15,12,00,00,0000" {
		t.Fatalf("resume actionCommand = %q", cmd)
	}

	// Older servers do not understand the appended time.
	c.serverMajor, c.serverMinor = 2, 90
	cmd, _ = c.actionCommand(s)
	if cmd != "DATA 000000000000000B" {
		t.Fatalf("resume actionCommand (2.90) = %q", cmd)
	}

	// A time window takes precedence over resumption.
	c.serverMajor, c.serverMinor = 3, 1
	c.BeginTime = "2023-06-15T00:00:00Z"
	c.EndTime = "2023-06-16T00:00:00Z"
	cmd, _ = c.actionCommand(s)
	if cmd != "TIME 2023-06-15T00:00:00Z 2023-06-16T00:00:00Z" {
		t.Fatalf("window actionCommand = %q", cmd)
	}
}

func replyConn(t *testing.T, response string) *Client {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	go func() {
		server.Write([]byte(response))
	}()

	c := New("t", "")
	c.Addr = "test:18000"
	c.conn = transport.NewConn(client, c.Addr, transport.Options{IOTimeout: time.Second})
	return c
}

func TestReadReply(t *testing.T) {
	c := replyConn(t, "OK\r\n")
	ok, _, err := c.readReply()
	if err != nil || !ok {
		t.Fatalf("readReply(OK) = (%v, %v)", ok, err)
	}

	c = replyConn(t, "ERROR\r\n")
	ok, _, err = c.readReply()
	if err != nil || ok {
		t.Fatalf("readReply(ERROR) = (%v, %v)", ok, err)
	}

	// Extended reply: explanation between the status CR and the CRLF.
	c = replyConn(t, "OK\rstation accepted\r\n")
	ok, explanation, err := c.readReply()
	if err != nil || !ok || explanation != "station accepted" {
		t.Fatalf("readReply(extreply) = (%v, %q, %v)", ok, explanation, err)
	}

	c = replyConn(t, "WAT\r\n")
	if _, _, err := c.readReply(); err == nil {
		t.Fatal("expected protocol error for unrecognized reply")
	}
}

func TestHelloParsing(t *testing.T) {
	c := replyConn(t, "SeedLink v4.0 :: SLPROTO:3.1 SLPROTO:4.0 CAP\r\nGEOFON\r\n")
	if err := c.sayHello(); err != nil {
		t.Fatalf("sayHello error: %v", err)
	}
	if c.serverMajor != 4 || c.serverMinor != 0 {
		t.Fatalf("server version = %d.%d", c.serverMajor, c.serverMinor)
	}
	if !c.HasCapability("CAP") || !c.HasCapability("SLPROTO:4.0") {
		t.Fatalf("capabilities = %q", c.capabilities)
	}

	c = replyConn(t, "SeedLink v3.1 (2020.001)\r\nEXAMPLE ORG\r\n")
	if err := c.sayHello(); err != nil {
		t.Fatalf("sayHello error: %v", err)
	}
	if c.serverMajor != 3 || c.serverMinor != 1 {
		t.Fatalf("server version = %d.%d", c.serverMajor, c.serverMinor)
	}

	c = replyConn(t, "SomeOtherServer 9.9\r\nORG\r\n")
	if err := c.sayHello(); err != nil {
		t.Fatalf("sayHello error: %v", err)
	}
	if c.serverMajor != 0 || c.serverMinor != 0 {
		t.Fatalf("unparsable version should read 0.0, got %d.%d", c.serverMajor, c.serverMinor)
	}
}
