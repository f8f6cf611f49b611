// Package statefile saves and recovers the per-station sequence numbers
// and timestamps of a SeedLink connection, so a client can resume where it
// left off. Two backings are provided: the traditional newline-delimited
// text file and an SQLite database.
package statefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"seedlink/streams"
	"seedlink/timeutil"
)

// Save writes one line per subscription in the form
//
//	<NET_STA> <seqnum|-1> [<timestamp>]
//
// where -1 stands for an unset sequence number.
func Save(w io.Writer, list *streams.List) error {
	for _, s := range list.All() {
		var line string
		switch {
		case s.SeqNum == streams.UnsetSequence && s.Timestamp == "":
			line = fmt.Sprintf("%s -1\n", s.NetStaID)
		case s.SeqNum == streams.UnsetSequence:
			line = fmt.Sprintf("%s -1 %s\n", s.NetStaID, s.Timestamp)
		case s.Timestamp == "":
			line = fmt.Sprintf("%s %d\n", s.NetStaID, s.SeqNum)
		default:
			line = fmt.Sprintf("%s %d %s\n", s.NetStaID, s.SeqNum, s.Timestamp)
		}
		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("statefile: write: %w", err)
		}
	}
	return nil
}

// Recover reads state lines and applies them to matching entries of the
// list. Lines are matched by exact station ID; unmatched lines are
// ignored, as are comments beginning with '#' or '*'. The legacy format
// "<NET> <STA> <seq> [<ts>]" and comma-delimited timestamps are accepted.
func Recover(r io.Reader, list *streams.List) error {
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '*' {
			continue
		}

		fields := strings.Fields(line)

		var netstaid, seqstr, timestr string
		switch {
		case len(fields) >= 2 && strings.ContainsRune(fields[0], '_'):
			netstaid = fields[0]
			seqstr = fields[1]
			if len(fields) >= 3 {
				timestr = fields[2]
			}
		case len(fields) >= 3:
			// Legacy format: NET STA Sequence [Timestamp]
			netstaid = fields[0] + "_" + fields[1]
			seqstr = fields[2]
			if len(fields) >= 4 {
				timestr = fields[3]
			}
		default:
			return fmt.Errorf("statefile: cannot parse line %d", lineno)
		}

		seqnum := streams.UnsetSequence
		if seqstr != "-1" {
			v, err := strconv.ParseUint(seqstr, 10, 64)
			if err != nil {
				return fmt.Errorf("statefile: bad sequence %q on line %d", seqstr, lineno)
			}
			seqnum = v
		}

		if timestr != "" {
			iso, err := timeutil.ISODateTimeString(timestr)
			if err != nil {
				return fmt.Errorf("statefile: bad timestamp %q on line %d", timestr, lineno)
			}
			timestr = iso
		}

		if entry := list.Find(netstaid); entry != nil {
			entry.SeqNum = seqnum
			entry.Timestamp = timestr
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("statefile: read: %w", err)
	}
	return nil
}

// SaveFile writes the state to path, replacing any previous contents.
func SaveFile(path string, list *streams.List) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("statefile: create: %w", err)
	}
	if err := Save(f, list); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// RecoverFile applies the state stored at path. A missing file is not an
// error: there is simply no state to recover yet.
func RecoverFile(path string, list *streams.List) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("statefile: open: %w", err)
	}
	defer f.Close()
	return Recover(f, list)
}
