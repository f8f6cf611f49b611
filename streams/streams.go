// Package streams maintains the ordered list of per-station subscriptions
// for a SeedLink connection, including the resumption state (sequence
// number and last packet time) tracked for each entry.
package streams

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"seedlink/strutil"
	"seedlink/timeutil"
	"seedlink/wildcard"
)

// AllStationID is the synthetic station ID used for uni-station mode,
// where a single subscription covers every station the server offers.
const AllStationID = "XX_UNI"

// UnsetSequence marks an unknown or absent sequence number.
const UnsetSequence = ^uint64(0)

var (
	// ErrAllStationConfigured is returned by Add when uni-station mode is
	// already active; the two modes are mutually exclusive.
	ErrAllStationConfigured = errors.New("streams: uni-station mode already configured")

	// ErrMultiStationConfigured is returned by SetAllStation when station
	// subscriptions already exist.
	ErrMultiStationConfigured = errors.New("streams: multi-station mode already configured")
)

// Stream is one station subscription. NetStaID may contain glob wildcards
// for servers that support them; SeqNum and Timestamp record the most
// recent packet seen for resumption.
type Stream struct {
	NetStaID  string
	Selectors string
	SeqNum    uint64
	Timestamp string
}

// List is the subscription registry. Entries are kept in three partitions
// to stabilize iteration order: exact IDs first, then patterns whose only
// wildcards are '?' or classes, then patterns containing '*'; ascending by
// ID within each partition. Duplicate IDs are allowed.
type List struct {
	entries    []*Stream
	allStation bool
}

// partitionRank orders entries: exact IDs sort before '?'-style patterns,
// which sort before anything containing '*'.
func partitionRank(id string) int {
	if strings.ContainsRune(id, '*') {
		return 2
	}
	if strings.ContainsAny(id, "?[") {
		return 1
	}
	return 0
}

func normalizeTimestamp(timestamp string) (string, error) {
	if timestamp == "" {
		return "", nil
	}
	iso, err := timeutil.ISODateTimeString(timestamp)
	if err != nil {
		return "", fmt.Errorf("streams: bad timestamp %q: %w", timestamp, err)
	}
	return iso, nil
}

// Add appends a subscription, keeping the partitioned sort order. The
// timestamp may be in legacy comma form and is normalized to ISO-8601.
func (l *List) Add(netstaid, selectors string, seqnum uint64, timestamp string) error {
	if l.allStation {
		return ErrAllStationConfigured
	}

	ts, err := normalizeTimestamp(timestamp)
	if err != nil {
		return err
	}

	entry := &Stream{
		NetStaID:  netstaid,
		Selectors: selectors,
		SeqNum:    seqnum,
		Timestamp: ts,
	}

	rank := partitionRank(netstaid)
	pos := len(l.entries)
	for i, e := range l.entries {
		er := partitionRank(e.NetStaID)
		if er > rank || (er == rank && e.NetStaID > netstaid) {
			pos = i
			break
		}
	}

	l.entries = append(l.entries, nil)
	copy(l.entries[pos+1:], l.entries[pos:])
	l.entries[pos] = entry
	return nil
}

// SetAllStation switches the list to uni-station mode: a single synthetic
// entry covering every station. Fails if station subscriptions exist.
func (l *List) SetAllStation(selectors string, seqnum uint64, timestamp string) error {
	if len(l.entries) > 0 && !l.allStation {
		return ErrMultiStationConfigured
	}

	ts, err := normalizeTimestamp(timestamp)
	if err != nil {
		return err
	}

	l.entries = []*Stream{{
		NetStaID:  AllStationID,
		Selectors: selectors,
		SeqNum:    seqnum,
		Timestamp: ts,
	}}
	l.allStation = true
	return nil
}

// Update records a received packet against the registry. In uni-station
// mode the lone entry is updated unconditionally; otherwise every entry
// whose pattern matches the concrete incoming ID is updated. Returns the
// number of entries updated; zero means no subscription matched.
func (l *List) Update(netstaid string, seqnum uint64, timestamp string) int {
	if len(l.entries) == 0 {
		return 0
	}

	if l.allStation {
		l.entries[0].SeqNum = seqnum
		l.entries[0].Timestamp = timestamp
		return 1
	}

	updates := 0
	for _, e := range l.entries {
		if wildcard.Match(netstaid, e.NetStaID) {
			e.SeqNum = seqnum
			e.Timestamp = timestamp
			updates++
		}
	}
	return updates
}

// Len returns the number of subscriptions.
func (l *List) Len() int {
	return len(l.entries)
}

// AllStation reports whether the list is in uni-station mode.
func (l *List) AllStation() bool {
	return l.allStation
}

// All returns the subscriptions in registry order. The returned slice is
// shared; callers must not reorder it.
func (l *List) All() []*Stream {
	return l.entries
}

// Find returns the first entry with the exact ID, or nil.
func (l *List) Find(netstaid string) *Stream {
	for _, e := range l.entries {
		if e.NetStaID == netstaid {
			return e
		}
	}
	return nil
}

// ParseStreamList adds subscriptions from a stream list string of the form
//
//	stream1[:selectors1],stream2[:selectors2],...
//
// for example "IU_KONO:BHE BHN,GE_WLF,MN_AQU:HH?". Entries without
// selectors receive defaultSelectors. Returns the number of streams added.
func (l *List) ParseStreamList(streamlist, defaultSelectors string) (int, error) {
	count := 0
	for _, item := range strings.Split(streamlist, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		id := item
		selectors := defaultSelectors
		if idx := strings.IndexByte(item, ':'); idx >= 0 {
			id = item[:idx]
			selectors = item[idx+1:]
		}
		if err := l.Add(strutil.NormalizeUpper(id), selectors, UnsetSequence, ""); err != nil {
			return count, err
		}
		count++
	}
	if count == 0 {
		return 0, errors.New("streams: no streams in list")
	}
	return count, nil
}

// ReadStreamListFile adds subscriptions from a stream list file with one
// entry per line:
//
//	# comment
//	GE_ISP  BH?
//	NL_HGN
//
// The legacy format with NET and STA separated by whitespace is accepted
// and rewritten as NET_STA. Returns the number of streams added.
func (l *List) ReadStreamListFile(path, defaultSelectors string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("streams: open stream list: %w", err)
	}
	defer f.Close()

	count := 0
	lineno := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == '*' {
			continue
		}

		fields := strings.Fields(line)
		id := fields[0]
		rest := fields[1:]

		// Legacy format: NET STA [selectors]
		if !strings.ContainsRune(id, '_') {
			if len(rest) == 0 {
				return count, fmt.Errorf("streams: cannot parse line %d of %s: %q", lineno, path, line)
			}
			id = id + "_" + rest[0]
			rest = rest[1:]
		}

		selectors := defaultSelectors
		if len(rest) > 0 {
			selectors = strings.Join(rest, " ")
		}

		if err := l.Add(strutil.NormalizeUpper(id), selectors, UnsetSequence, ""); err != nil {
			return count, err
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("streams: read stream list: %w", err)
	}
	if count == 0 {
		return 0, fmt.Errorf("streams: no streams defined in %s", path)
	}
	return count, nil
}
