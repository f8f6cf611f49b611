package client

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"seedlink/streams"
	"seedlink/timeutil"
	"seedlink/transport"
)

var (
	errNegotiation   = errors.New("client: negotiation failed")
	errProtocolReply = errors.New("client: unexpected reply")
)

// helloVersionRE extracts the version from a greeting such as
// "SeedLink v3.1 (2020.001) :: SLPROTO:4.0 CAP".
var helloVersionRE = regexp.MustCompile(`(?i)seedlink v(\d+)\.(\d+)`)

// connect dials the server and runs the greeting and protocol upgrade.
// A malformed address is permanent and arms termination.
func (c *Client) connect() error {
	opts := transport.Options{
		IOTimeout: c.IOTimeout,
		TLS:       c.TLS,
		TLSConfig: c.TLSConfig,
		Log:       c.Log,
	}

	conn, err := c.Dialer(c.Addr, opts)
	if err != nil {
		if errors.Is(err, transport.ErrBadAddress) {
			c.Log.Logf(2, 0, "[%s] %v", c.Addr, err)
			c.terminate.Store(1)
		} else {
			c.Log.Logf(2, 0, "[%s] cannot connect: %v", c.Addr, err)
		}
		return err
	}
	c.conn = conn
	c.protoMajor = 3

	if err := c.sayHello(); err != nil {
		c.disconnect()
		return err
	}
	if err := c.upgradeProtocol(); err != nil {
		c.disconnect()
		return err
	}
	return nil
}

// Ping connects to the server, issues HELLO, and returns the server
// identification and site/organization lines before disconnecting. It
// does not negotiate data streams.
func (c *Client) Ping() (serverID, site string, err error) {
	opts := transport.Options{
		IOTimeout: c.IOTimeout,
		TLS:       c.TLS,
		TLSConfig: c.TLSConfig,
		Log:       c.Log,
	}

	conn, err := c.Dialer(c.Addr, opts)
	if err != nil {
		return "", "", err
	}
	defer conn.Close()

	if err := conn.SendCommand("HELLO"); err != nil {
		return "", "", err
	}

	readLine := func() (string, error) {
		raw, err := conn.RecvResponse(200, c.cancelled)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(raw), "\r\n"), nil
	}

	if serverID, err = readLine(); err != nil {
		return "", "", err
	}
	if site, err = readLine(); err != nil {
		return "", "", err
	}
	return serverID, site, nil
}

// sayHello sends HELLO and parses the two-line response: the server
// identification (with version and capability flags) and the site name.
func (c *Client) sayHello() error {
	c.Log.Logf(1, 2, "[%s] sending: HELLO", c.Addr)
	if err := c.conn.SendCommand("HELLO"); err != nil {
		return err
	}

	serverLine, err := c.readLine()
	if err != nil {
		return err
	}
	siteLine, err := c.readLine()
	if err != nil {
		return err
	}

	c.Log.Logf(1, 1, "[%s] connected to: %s", c.Addr, serverLine)
	c.Log.Logf(1, 1, "[%s] organization: %s", c.Addr, siteLine)

	c.serverMajor, c.serverMinor = 0, 0
	if m := helloVersionRE.FindStringSubmatch(serverLine); m != nil {
		major, _ := strconv.Atoi(m[1])
		minor, _ := strconv.Atoi(m[2])
		c.serverMajor = uint8(major)
		c.serverMinor = uint8(minor)
	} else {
		c.Log.Logf(1, 1, "[%s] unknown server version, assuming minimum functionality", c.Addr)
	}

	// Capability flags follow a "::" separator on the hello line.
	c.capabilities = ""
	if idx := strings.Index(serverLine, "::"); idx >= 0 {
		c.capabilities = strings.TrimSpace(serverLine[idx+2:])
	}

	return nil
}

// upgradeProtocol negotiates up from the greeting version: SLPROTO and
// GETCAPABILITIES for v4 servers, the CAPABILITIES command for v3 servers
// that accept it.
func (c *Client) upgradeProtocol() error {
	if c.serverMajor == 4 && c.maxProtoMajor >= 4 {
		cmd := fmt.Sprintf("SLPROTO %d.%d", c.maxProtoMajor, c.maxProtoMinor)
		c.Log.Logf(1, 2, "[%s] sending: %s", c.Addr, cmd)
		if err := c.conn.SendCommand(cmd); err != nil {
			return err
		}
		ok, explanation, err := c.readReply()
		if err != nil {
			return err
		}
		if !ok {
			c.Log.Logf(2, 0, "[%s] protocol upgrade refused: %s", c.Addr, explanation)
			return errNegotiation
		}
		c.protoMajor, c.protoMinor = 4, 0

		if err := c.queryCapabilities(); err != nil {
			return err
		}
		if err := c.sendUserAgent(); err != nil {
			return err
		}
		if err := c.authenticate(); err != nil {
			return err
		}
		return nil
	}

	// v3 capability advertisement, when the server offers it.
	if c.HasCapability("CAP") {
		cmd := fmt.Sprintf("CAPABILITIES SLPROTO:%d.%d EXTREPLY", c.maxProtoMajor, c.maxProtoMinor)
		c.Log.Logf(1, 2, "[%s] sending: %s", c.Addr, cmd)
		if err := c.conn.SendCommand(cmd); err != nil {
			return err
		}
		ok, _, err := c.readReply()
		if err != nil {
			return err
		}
		if ok {
			c.extReply = true
		}
	}

	return nil
}

// queryCapabilities retrieves the full capability list after a protocol
// upgrade. An SLPROTO token can promote the effective version again.
func (c *Client) queryCapabilities() error {
	if err := c.conn.Send([]byte("GETCAPABILITIES\r\n")); err != nil {
		return err
	}
	line, err := c.readLine()
	if err != nil {
		return err
	}
	c.capabilities = strings.Trim(line, "\r\n ")

	for _, flag := range strings.Fields(c.capabilities) {
		v, found := strings.CutPrefix(flag, "SLPROTO:")
		if !found {
			continue
		}
		parts := strings.SplitN(v, ".", 2)
		if len(parts) != 2 {
			continue
		}
		major, err1 := strconv.Atoi(parts[0])
		minor, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			continue
		}
		if uint8(major) > c.protoMajor ||
			(uint8(major) == c.protoMajor && uint8(minor) > c.protoMinor) {
			if uint8(major) < c.maxProtoMajor ||
				(uint8(major) == c.maxProtoMajor && uint8(minor) <= c.maxProtoMinor) {
				c.protoMajor = uint8(major)
				c.protoMinor = uint8(minor)
			}
		}
	}
	return nil
}

// sendUserAgent identifies the client program to a v4 server.
func (c *Client) sendUserAgent() error {
	agent := c.clientName
	if agent == "" {
		agent = "seedlink-go"
	}
	if c.clientVersion != "" {
		agent += "/" + c.clientVersion
	}
	cmd := fmt.Sprintf("USERAGENT %s seedlink-go/%s", agent, LibraryVersion)
	c.Log.Logf(1, 2, "[%s] sending: %s", c.Addr, cmd)
	if err := c.conn.SendCommand(cmd); err != nil {
		return err
	}
	ok, explanation, err := c.readReply()
	if err != nil {
		return err
	}
	if !ok {
		c.Log.Logf(2, 0, "[%s] USERAGENT refused: %s", c.Addr, explanation)
		return errNegotiation
	}
	return nil
}

// authenticate sends the caller-supplied credential when one is
// configured. AuthFinish always runs so implementations can release key
// material.
func (c *Client) authenticate() error {
	if c.Auth == nil {
		return nil
	}
	defer c.Auth.AuthFinish(c.Addr)

	value := c.Auth.AuthValue(c.Addr)
	if value == "" {
		return nil
	}

	if err := c.conn.SendCommand("AUTH " + value); err != nil {
		return err
	}
	ok, explanation, err := c.readReply()
	if err != nil {
		return err
	}
	if !ok {
		c.Log.Logf(2, 0, "[%s] authentication refused: %s", c.Addr, explanation)
		return errNegotiation
	}
	return nil
}

// configLink negotiates data selection with the connected server using
// whichever dialect applies.
func (c *Client) configLink() error {
	switch {
	case c.protoMajor >= 4:
		return c.negotiateV4()
	case !c.Streams.AllStation():
		if !c.checkVersion(2, 5) {
			c.Log.Logf(2, 0, "[%s] server version does not support multi-station protocol", c.Addr)
			return errNegotiation
		}
		return c.negotiateMulti()
	default:
		return c.negotiateUni()
	}
}

// actionCommand builds the DATA/FETCH/TIME command for one subscription
// under the v3 rules: a time window takes precedence over sequence
// resumption, sequence numbers are sent as 16-digit uppercase hex, and
// the last packet time is appended in comma form when supported.
func (c *Client) actionCommand(s *streams.Stream) (string, error) {
	if c.BeginTime != "" {
		if !c.checkVersion(2, 92) {
			c.Log.Logf(2, 0, "[%s] server version does not support TIME windows", c.Addr)
			return "", errNegotiation
		}
		if c.EndTime != "" {
			return fmt.Sprintf("TIME %.31s %.31s", c.BeginTime, c.EndTime), nil
		}
		return fmt.Sprintf("TIME %.31s", c.BeginTime), nil
	}

	verb := "DATA"
	if c.Dialup {
		verb = "FETCH"
	}

	if s.SeqNum == streams.UnsetSequence || !c.Resume {
		c.Log.Logf(1, 1, "[%s] requesting next available data", c.Addr)
		return verb, nil
	}

	next := s.SeqNum + 1
	if c.LastPacketTime && c.checkVersion(2, 93) && s.Timestamp != "" {
		comma, err := timeutil.CommaDateTimeString(s.Timestamp)
		if err != nil {
			return "", fmt.Errorf("client: bad resume timestamp %q: %w", s.Timestamp, err)
		}
		c.Log.Logf(1, 1, "[%s] resuming data from %016X at %s", c.Addr, next, s.Timestamp)
		return fmt.Sprintf("%s %016X %.31s", verb, next, comma), nil
	}

	c.Log.Logf(1, 1, "[%s] resuming data from %016X", c.Addr, next)
	return fmt.Sprintf("%s %016X", verb, next), nil
}

// sendSelectors issues SELECT commands for a subscription and counts
// acceptances. In batch mode replies are not read.
func (c *Client) sendSelectors(s *streams.Stream, errcount *int) (accepted int, err error) {
	for _, sel := range strings.Fields(s.Selectors) {
		c.Log.Logf(1, 2, "[%s] sending: SELECT %s", c.Addr, sel)
		if err := c.conn.SendCommand("SELECT " + sel); err != nil {
			return accepted, err
		}
		if c.batchActive {
			accepted++
			continue
		}
		ok, explanation, err := c.readReply()
		if err != nil {
			return accepted, err
		}
		if !ok {
			c.Log.Logf(2, 0, "[%s] selector %s not accepted: %s", c.Addr, sel, explanation)
			*errcount++
			continue
		}
		accepted++
	}
	return accepted, nil
}

// negotiateUni configures a v3 uni-station session: selectors for the
// single subscription, then the action command, after which the stream
// begins.
func (c *Client) negotiateUni() error {
	s := c.Streams.All()[0]
	errcount := 0

	if s.Selectors != "" {
		accepted, err := c.sendSelectors(s, &errcount)
		if err != nil {
			return err
		}
		if accepted == 0 {
			c.Log.Logf(2, 0, "[%s] no data stream selectors accepted", c.Addr)
			return errNegotiation
		}
	}

	cmd, err := c.actionCommand(s)
	if err != nil {
		return err
	}
	c.Log.Logf(1, 2, "[%s] sending: %s", c.Addr, cmd)
	return c.conn.SendCommand(cmd)
}

// negotiateMulti configures a v3 multi-station session: a STATION block
// per subscription followed by END. When the server accepts BATCH, the
// per-command replies are skipped.
func (c *Client) negotiateMulti() error {
	errcount := 0
	acceptedStations := 0

	if c.BatchMode && c.checkVersion(3, 1) {
		c.Log.Logf(1, 2, "[%s] sending: BATCH", c.Addr)
		if err := c.conn.SendCommand("BATCH"); err != nil {
			return err
		}
		if ok, _, err := c.readReply(); err != nil {
			return err
		} else if ok {
			c.batchActive = true
		}
	}

	for _, s := range c.Streams.All() {
		netCode, staCode, found := strings.Cut(s.NetStaID, "_")
		if !found {
			c.Log.Logf(2, 0, "[%s] station ID not in NET_STA form: %s", c.Addr, s.NetStaID)
			errcount++
			continue
		}

		// The wire order is station then network.
		c.Log.Logf(1, 2, "[%s] sending: STATION %s %s", s.NetStaID, staCode, netCode)
		if err := c.conn.SendCommand(fmt.Sprintf("STATION %s %s", staCode, netCode)); err != nil {
			return err
		}
		if !c.batchActive {
			ok, explanation, err := c.readReply()
			if err != nil {
				return err
			}
			if !ok {
				c.Log.Logf(2, 0, "[%s] station not accepted: %s", s.NetStaID, explanation)
				errcount++
				continue
			}
		}
		acceptedStations++

		if s.Selectors != "" {
			if _, err := c.sendSelectors(s, &errcount); err != nil {
				return err
			}
		}

		cmd, err := c.actionCommand(s)
		if err != nil {
			return err
		}
		c.Log.Logf(1, 2, "[%s] sending: %s", s.NetStaID, cmd)
		if err := c.conn.SendCommand(cmd); err != nil {
			return err
		}
		if !c.batchActive {
			ok, explanation, err := c.readReply()
			if err != nil {
				return err
			}
			if !ok {
				c.Log.Logf(2, 0, "[%s] %s command not accepted: %s", s.NetStaID, cmd, explanation)
				errcount++
			}
		}
	}

	if acceptedStations == 0 {
		c.Log.Logf(2, 0, "[%s] no stations accepted", c.Addr)
		return errNegotiation
	}
	if errcount > 0 {
		c.Log.Logf(2, 0, "[%s] %d negotiation errors", c.Addr, errcount)
		return errNegotiation
	}

	c.Log.Logf(1, 1, "[%s] %d station(s) accepted", c.Addr, acceptedStations)
	c.Log.Logf(1, 2, "[%s] sending: END", c.Addr)
	return c.conn.SendCommand("END")
}

// negotiateV4 configures a v4 session: all commands are sent first, then
// one reply is read per command, then END starts the stream.
func (c *Client) negotiateV4() error {
	var cmds []string

	for _, s := range c.Streams.All() {
		cmds = append(cmds, "STATION "+s.NetStaID)
		for _, sel := range strings.Fields(s.Selectors) {
			cmds = append(cmds, "SELECT "+sel)
		}

		verb := "DATA"
		if c.Dialup {
			verb = "FETCH"
		}

		seqToken := ""
		if s.SeqNum != streams.UnsetSequence && c.Resume {
			seqToken = strconv.FormatUint(s.SeqNum+1, 10)
		}

		cmd := verb
		switch {
		case c.BeginTime != "":
			// A window with no sequence resumes from the window start,
			// signalled by the -1 sentinel.
			if seqToken == "" {
				seqToken = "-1"
			}
			cmd += " " + seqToken + " " + c.BeginTime
			if c.EndTime != "" {
				cmd += " " + c.EndTime
			}
		case seqToken != "":
			cmd += " " + seqToken
		}
		cmds = append(cmds, cmd)
	}

	for _, cmd := range cmds {
		c.Log.Logf(1, 2, "[%s] sending: %s", c.Addr, cmd)
		if err := c.conn.SendCommand(cmd); err != nil {
			return err
		}
	}

	errcount := 0
	for _, cmd := range cmds {
		ok, explanation, err := c.readReply()
		if err != nil {
			return err
		}
		if !ok {
			c.Log.Logf(2, 0, "[%s] command not accepted: %s: %s", c.Addr, cmd, explanation)
			errcount++
		}
	}
	if errcount > 0 {
		c.Log.Logf(2, 0, "[%s] %d negotiation errors", c.Addr, errcount)
		return errNegotiation
	}

	c.Log.Logf(1, 2, "[%s] sending: END", c.Addr)
	return c.conn.SendCommand("END")
}

// sendInfo issues an INFO request. The verbosity parameter controls how
// loudly the request is logged; keepalive probes use 3.
func (c *Client) sendInfo(level string, verbosity int) error {
	if c.protoMajor <= 3 && !c.checkVersion(2, 92) {
		c.Log.Logf(2, 0, "[%s] server version does not support INFO requests", c.Addr)
		return errNegotiation
	}
	c.Log.Logf(1, verbosity, "[%s] requesting INFO level %s", c.Addr, level)
	return c.conn.SendCommand(fmt.Sprintf("INFO %.15s", level))
}

// readLine reads one CRLF-terminated response line, trimmed.
func (c *Client) readLine() (string, error) {
	raw, err := c.conn.RecvResponse(200, c.cancelled)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw), "\r\n"), nil
}

// readReply reads a command reply and classifies it as OK or ERROR. With
// extended replies enabled, a human-readable explanation may follow the
// status token after a CR.
func (c *Client) readReply() (ok bool, explanation string, err error) {
	raw, err := c.conn.RecvResponse(200, c.cancelled)
	if err != nil {
		return false, "", err
	}

	s := strings.TrimRight(string(raw), "\r\n")
	status := s
	if idx := strings.IndexByte(s, '\r'); idx >= 0 {
		status = s[:idx]
		explanation = strings.TrimSpace(s[idx+1:])
	}
	status = strings.TrimSpace(status)

	switch {
	case status == "OK" || strings.HasPrefix(status, "OK "):
		return true, explanation, nil
	case strings.HasPrefix(status, "ERROR"):
		if explanation == "" {
			explanation = strings.TrimSpace(strings.TrimPrefix(status, "ERROR"))
		}
		return false, explanation, nil
	default:
		c.Log.Logf(2, 0, "[%s] invalid response: %.40s", c.Addr, s)
		return false, "", errProtocolReply
	}
}
