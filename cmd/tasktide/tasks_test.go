package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"tasktide/pkg/lifecycle"
	"tasktide/pkg/task"
)

func TestParseStart(t *testing.T) {
	got, err := parseStart("2026-05-04T10:30:00Z")
	if err != nil {
		t.Fatalf("parseStart RFC3339: %v", err)
	}
	if want := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	got, err = parseStart("2026-05-04 10:30")
	if err != nil {
		t.Fatalf("parseStart short form: %v", err)
	}
	if got.Hour() != 10 || got.Minute() != 30 || got.Location() != time.Local {
		t.Errorf("short form parsed as %v", got)
	}

	if _, err := parseStart("tomorrow"); err == nil {
		t.Error("expected error for free-form start")
	}
}

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Fatalf("parseID(42) = (%d, %v)", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "x"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func TestOnlyChanges(t *testing.T) {
	in := []lifecycle.Result{
		{TaskID: 1, Outcome: lifecycle.OutcomeUpdated},
		{TaskID: 2, Outcome: lifecycle.OutcomeSkipped},
		{TaskID: 3, Outcome: lifecycle.OutcomeFailed},
	}
	out := onlyChanges(in)
	if len(out) != 2 || out[0].TaskID != 1 || out[1].TaskID != 3 {
		t.Fatalf("onlyChanges = %+v", out)
	}
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf, []task.Task{
		{ID: 7, ShortName: "Dentist", Status: task.StatusRecorded, DurationHours: 1},
	})
	if !bytes.Contains(buf.Bytes(), []byte("Dentist")) || !bytes.Contains(buf.Bytes(), []byte("recorded")) {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestMergeDetails(t *testing.T) {
	cmd := editCmd()
	if err := cmd.Flags().Set("location", ""); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("name", "Dentist (moved)"); err != nil {
		t.Fatal(err)
	}
	cur := task.Details{ShortName: "Dentist", Description: "Checkup", Location: "Main St"}
	got := mergeDetails(cmd.Flags(), cur, task.Details{ShortName: "Dentist (moved)"})
	want := task.Details{ShortName: "Dentist (moved)", Description: "Checkup", Location: ""}
	if got != want {
		t.Fatalf("mergeDetails = %+v, want %+v", got, want)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := printJSON(&buf, map[string]int{"n": 1}); err != nil {
		t.Fatalf("printJSON: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"n": 1`)) {
		t.Errorf("unexpected output %q", buf.String())
	}
	if err := printJSON(failingWriter{}, 1); err == nil {
		t.Fatal("printJSON should report write errors")
	}
}
