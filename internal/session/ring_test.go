package session

import "testing"

func TestRingTailReturnsChronologicalOrder(t *testing.T) {
	r := NewRing(3)
	r.Push(LogLine{Text: "a"})
	r.Push(LogLine{Text: "b"})
	r.Push(LogLine{Text: "c"})
	r.Push(LogLine{Text: "d"}) // overwrites "a"

	lines, dropped := r.Tail(10)
	if dropped != 1 {
		t.Fatalf("expected 1 dropped line, got %d", dropped)
	}
	want := []string{"b", "c", "d"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d", len(want), len(lines))
	}
	for i, l := range lines {
		if l.Text != want[i] {
			t.Fatalf("line %d = %q, want %q", i, l.Text, want[i])
		}
	}
}

func TestRingTailLimitsCount(t *testing.T) {
	r := NewRing(10)
	for _, s := range []string{"1", "2", "3", "4", "5"} {
		r.Push(LogLine{Text: s})
	}
	lines, _ := r.Tail(2)
	if len(lines) != 2 || lines[0].Text != "4" || lines[1].Text != "5" {
		t.Fatalf("unexpected tail: %+v", lines)
	}
}

func TestRingSinceReturnsOnlyNewLines(t *testing.T) {
	r := NewRing(10)
	r.Push(LogLine{Text: "1"})
	r.Push(LogLine{Text: "2"})

	lines, seq, gap := r.Since(0)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines from watermark 0, got %d", len(lines))
	}
	if gap != 0 {
		t.Fatalf("expected no gap, got %d", gap)
	}

	r.Push(LogLine{Text: "3"})
	lines, seq, gap = r.Since(seq)
	if len(lines) != 1 || lines[0].Text != "3" {
		t.Fatalf("expected only the new line, got %+v", lines)
	}
	if gap != 0 {
		t.Fatalf("expected no gap, got %d", gap)
	}

	lines, _, gap = r.Since(seq)
	if len(lines) != 0 {
		t.Fatalf("expected no new lines at the current watermark, got %+v", lines)
	}
	if gap != 0 {
		t.Fatalf("expected no gap, got %d", gap)
	}
}

func TestRingSinceHandlesWatermarkBehindDroppedLines(t *testing.T) {
	r := NewRing(2)
	r.Push(LogLine{Text: "a"})
	r.Push(LogLine{Text: "b"})
	r.Push(LogLine{Text: "c"}) // overwrites "a"

	lines, seq, gap := r.Since(0)
	if len(lines) != 2 || lines[0].Text != "b" || lines[1].Text != "c" {
		t.Fatalf("expected the two retained lines, got %+v", lines)
	}
	if seq != 3 {
		t.Fatalf("expected watermark 3, got %d", seq)
	}
	if gap != 1 {
		t.Fatalf("expected a gap of 1 dropped line, got %d", gap)
	}
}
