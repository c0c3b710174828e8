package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAndChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := log.Write(&Event{Type: EventStamp, Target: "a.txt", Success: true}); err != nil {
		t.Fatal(err)
	}
	if err := log.Write(&Event{Type: EventVerify, Target: "a.txt.gtts", Success: false, Detail: "errors=2"}); err != nil {
		t.Fatal(err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad log line: %v", err)
		}
		events = append(events, e)
	}

	if len(events) != 2 {
		t.Fatalf("event count = %d", len(events))
	}
	if events[0].HashPrev != GenesisHash {
		t.Fatalf("first event chains to %q", events[0].HashPrev)
	}
	if events[1].HashPrev != events[0].Hash {
		t.Fatal("second event does not chain to the first")
	}
	if events[0].Time.IsZero() {
		t.Fatal("event time not set")
	}
}

func TestReopenContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	log, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	first := &Event{Type: EventExtend, Target: "x"}
	if err := log.Write(first); err != nil {
		t.Fatal(err)
	}
	log.Close()

	log, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	second := &Event{Type: EventInspect, Target: "y"}
	if err := log.Write(second); err != nil {
		t.Fatal(err)
	}
	log.Close()

	if second.HashPrev != first.Hash {
		t.Fatalf("chain broken across reopen: %q vs %q", second.HashPrev, first.Hash)
	}
}
