package streams

import (
	"os"
	"path/filepath"
	"testing"
)

func ids(l *List) []string {
	out := make([]string, 0, l.Len())
	for _, e := range l.All() {
		out = append(out, e.NetStaID)
	}
	return out
}

func TestAddPartitionedOrder(t *testing.T) {
	l := &List{}
	for _, id := range []string{"IU_*", "NL_HGN", "G?_AQU", "GE_ISP", "*_*", "AB_??"} {
		if err := l.Add(id, "", UnsetSequence, ""); err != nil {
			t.Fatalf("Add(%q) error: %v", id, err)
		}
	}

	want := []string{"GE_ISP", "NL_HGN", "AB_??", "G?_AQU", "*_*", "IU_*"}
	got := ids(l)
	if len(got) != len(want) {
		t.Fatalf("Len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestAddAllowsDuplicates(t *testing.T) {
	l := &List{}
	for i := 0; i < 2; i++ {
		if err := l.Add("IU_ANMO", "BHZ", UnsetSequence, ""); err != nil {
			t.Fatalf("Add error: %v", err)
		}
	}
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
}

func TestAddNormalizesTimestamp(t *testing.T) {
	l := &List{}
	if err := l.Add("IU_ANMO", "", 5, "2021,11,19,17,23,18"); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if ts := l.All()[0].Timestamp; ts != "2021-11-19T17:23:18Z" {
		t.Fatalf("Timestamp = %q", ts)
	}

	if err := l.Add("IU_COLA", "", 5, "not a time"); err == nil {
		t.Fatal("expected error for bad timestamp")
	}
}

func TestModeExclusivity(t *testing.T) {
	l := &List{}
	if err := l.SetAllStation("BH?", UnsetSequence, ""); err != nil {
		t.Fatalf("SetAllStation error: %v", err)
	}
	if !l.AllStation() || l.Len() != 1 || l.All()[0].NetStaID != AllStationID {
		t.Fatalf("unexpected uni-station state: %v", ids(l))
	}

	if err := l.Add("IU_ANMO", "", UnsetSequence, ""); err != ErrAllStationConfigured {
		t.Fatalf("Add in uni-station mode: %v", err)
	}

	// Re-applying uni-station parameters overwrites the single entry.
	if err := l.SetAllStation("HH?", 9, ""); err != nil {
		t.Fatalf("SetAllStation (second) error: %v", err)
	}
	if l.Len() != 1 || l.All()[0].Selectors != "HH?" {
		t.Fatalf("uni-station entry not replaced")
	}

	m := &List{}
	if err := m.Add("IU_ANMO", "", UnsetSequence, ""); err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if err := m.SetAllStation("", UnsetSequence, ""); err != ErrMultiStationConfigured {
		t.Fatalf("SetAllStation in multi-station mode: %v", err)
	}
}

func TestUpdateGlobMatching(t *testing.T) {
	l := &List{}
	for _, id := range []string{"IU_ANMO", "IU_COLA", "IU_*", "??_ANMO"} {
		if err := l.Add(id, "", UnsetSequence, ""); err != nil {
			t.Fatalf("Add(%q) error: %v", id, err)
		}
	}

	n := l.Update("IU_ANMO", 42, "2023-06-15T12:00:00.0000Z")
	if n != 3 {
		t.Fatalf("Update count = %d, want 3", n)
	}
	for _, e := range l.All() {
		matched := e.NetStaID != "IU_COLA"
		if matched && (e.SeqNum != 42 || e.Timestamp == "") {
			t.Fatalf("entry %q not updated", e.NetStaID)
		}
		if !matched && e.SeqNum != UnsetSequence {
			t.Fatalf("entry %q unexpectedly updated", e.NetStaID)
		}
	}

	if n := l.Update("ZZ_NONE", 1, ""); n != 0 {
		t.Fatalf("Update for unmatched ID = %d, want 0", n)
	}
}

func TestUpdateAllStation(t *testing.T) {
	l := &List{}
	if err := l.SetAllStation("", UnsetSequence, ""); err != nil {
		t.Fatalf("SetAllStation error: %v", err)
	}
	if n := l.Update("IU_ANMO", 7, "2023-06-15T12:00:00.0000Z"); n != 1 {
		t.Fatalf("Update = %d, want 1", n)
	}
	e := l.All()[0]
	if e.SeqNum != 7 || e.Timestamp != "2023-06-15T12:00:00.0000Z" {
		t.Fatalf("uni-station entry not updated: %+v", e)
	}
}

func TestParseStreamList(t *testing.T) {
	l := &List{}
	n, err := l.ParseStreamList("IU_KONO:BHE BHN,GE_WLF,MN_AQU:HH?", "LH?")
	if err != nil {
		t.Fatalf("ParseStreamList error: %v", err)
	}
	if n != 3 || l.Len() != 3 {
		t.Fatalf("stream count = %d", n)
	}

	kono := l.Find("IU_KONO")
	if kono == nil || kono.Selectors != "BHE BHN" {
		t.Fatalf("IU_KONO selectors: %+v", kono)
	}
	wlf := l.Find("GE_WLF")
	if wlf == nil || wlf.Selectors != "LH?" {
		t.Fatalf("GE_WLF should carry the default selectors: %+v", wlf)
	}
}

func TestReadStreamListFile(t *testing.T) {
	content := "# comment line\n" +
		"* also a comment\n" +
		"GE_ISP  BH?\n" +
		"NL_HGN\n" +
		"MN AQU  BH? HH?\n" // legacy NET STA format

	path := filepath.Join(t.TempDir(), "streams.list")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	l := &List{}
	n, err := l.ReadStreamListFile(path, "LH?")
	if err != nil {
		t.Fatalf("ReadStreamListFile error: %v", err)
	}
	if n != 3 {
		t.Fatalf("stream count = %d, want 3", n)
	}
	if l.Find("MN_AQU") == nil {
		t.Fatal("legacy NET STA line not rewritten as NET_STA")
	}
	if got := l.Find("MN_AQU").Selectors; got != "BH? HH?" {
		t.Fatalf("MN_AQU selectors = %q", got)
	}
	if got := l.Find("NL_HGN").Selectors; got != "LH?" {
		t.Fatalf("NL_HGN selectors = %q", got)
	}
}
