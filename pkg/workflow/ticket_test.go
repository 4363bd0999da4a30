package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dispatchd/dispatch-gateway/pkg/relay"
	"github.com/dispatchd/dispatch-gateway/pkg/ticketstore"
)

type fakeClassifier struct {
	completion string
	err        error
	calls      int
}

func (f *fakeClassifier) Classify(ctx context.Context, entries []relay.TranscriptEntry) (string, error) {
	f.calls++
	return f.completion, f.err
}

func sampleEntries() []relay.TranscriptEntry {
	now := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)
	return []relay.TranscriptEntry{
		{Role: relay.RoleUser, Text: "There is a fire at 12 Oak Street", Timestamp: now},
		{Role: relay.RoleAssistant, Text: "Help is on the way", Timestamp: now.Add(2 * time.Second)},
	}
}

func newTicketWorkflow(c Classifier, store ticketstore.Store) *TicketWorkflow {
	return &TicketWorkflow{
		Classifier: c,
		Store:      store,
		Now:        func() time.Time { return time.Date(2026, 3, 9, 14, 1, 0, 0, time.UTC) },
		NewID:      func() string { return "TICKET-AB12CD34" },
	}
}

func TestTicketWorkflow_HappyPath(t *testing.T) {
	store := ticketstore.NewMemory()
	cls := &fakeClassifier{completion: "```json\n" +
		`{"name":"unknown","location":"12 Oak Street","ticket_type":"fire","priority":"high","summary":"Structure fire reported","services_needed":["fire"],"life_threatening":true,"affected_people":2}` +
		"\n```"}
	w := newTicketWorkflow(cls, store)

	state := w.Run(context.Background(), sampleEntries())
	if state.Status != TicketCompleted {
		t.Fatalf("status = %s, err = %+v", state.Status, state.Err)
	}
	if state.TicketID != "TICKET-AB12CD34" {
		t.Fatalf("ticket id = %q", state.TicketID)
	}
	rec, ok := store.Get("TICKET-AB12CD34")
	if !ok {
		t.Fatal("ticket not stored")
	}
	if rec["severity_score"] != 3 {
		t.Fatalf("severity_score = %v, want 3", rec["severity_score"])
	}
	if rec["received_at"] != "2026-03-09T14:01:00Z" {
		t.Fatalf("received_at = %v", rec["received_at"])
	}
	if rec["location"] != "12 Oak Street" {
		t.Fatalf("location = %v", rec["location"])
	}
}

func TestTicketWorkflow_EmptyTranscript(t *testing.T) {
	cls := &fakeClassifier{}
	w := newTicketWorkflow(cls, ticketstore.NewMemory())

	state := w.Run(context.Background(), nil)
	if state.Status != TicketFailed || state.Err.Kind != ErrKindInput {
		t.Fatalf("state = %s %+v", state.Status, state.Err)
	}
	if cls.calls != 0 {
		t.Fatalf("classifier called %d times for empty transcript", cls.calls)
	}
}

func TestTicketWorkflow_MalformedEntry(t *testing.T) {
	w := newTicketWorkflow(&fakeClassifier{}, ticketstore.NewMemory())
	entries := []relay.TranscriptEntry{{Role: relay.RoleUser, Text: ""}}

	state := w.Run(context.Background(), entries)
	if state.Status != TicketFailed || state.Err.Kind != ErrKindInput {
		t.Fatalf("state = %s %+v", state.Status, state.Err)
	}
}

func TestTicketWorkflow_ClassifierError(t *testing.T) {
	cls := &fakeClassifier{err: errors.New("upstream down")}
	w := newTicketWorkflow(cls, ticketstore.NewMemory())

	state := w.Run(context.Background(), sampleEntries())
	if state.Status != TicketFailed || state.Err.Kind != ErrKindGenerate {
		t.Fatalf("state = %s %+v", state.Status, state.Err)
	}
}

func TestTicketWorkflow_ParseError(t *testing.T) {
	cls := &fakeClassifier{completion: "sorry, I cannot help with that"}
	store := ticketstore.NewMemory()
	w := newTicketWorkflow(cls, store)

	state := w.Run(context.Background(), sampleEntries())
	if state.Status != TicketFailed || state.Err.Kind != ErrKindParse {
		t.Fatalf("state = %s %+v", state.Status, state.Err)
	}
	if store.Len() != 0 {
		t.Fatal("nothing should be stored on parse failure")
	}
}

func TestTicketWorkflow_MissingRequiredField(t *testing.T) {
	cls := &fakeClassifier{completion: `{"priority":"high","ticket_type":"fire"}`}
	store := ticketstore.NewMemory()
	w := newTicketWorkflow(cls, store)

	state := w.Run(context.Background(), sampleEntries())
	if state.Status != TicketFailed || state.Err.Kind != ErrKindValidate {
		t.Fatalf("state = %s %+v", state.Status, state.Err)
	}
	if !strings.Contains(state.Err.Message, "location") {
		t.Fatalf("message = %q", state.Err.Message)
	}
	if store.Len() != 0 {
		t.Fatal("nothing should be stored on validation failure")
	}
}

func TestTicketWorkflow_StoreError(t *testing.T) {
	store := ticketstore.NewMemory()
	if err := store.Put(context.Background(), "TICKET-AB12CD34", map[string]any{}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cls := &fakeClassifier{completion: `{"priority":"low","location":"somewhere","ticket_type":"other"}`}
	w := newTicketWorkflow(cls, store)

	state := w.Run(context.Background(), sampleEntries())
	if state.Status != TicketFailed || state.Err.Kind != ErrKindUpload {
		t.Fatalf("state = %s %+v", state.Status, state.Err)
	}
}

func TestTicketWorkflow_SeverityScores(t *testing.T) {
	cases := []struct {
		priority string
		want     int
	}{
		{"high", 3},
		{"HIGH", 3},
		{"medium", 2},
		{"low", 1},
		{"urgent", 0},
		{"", 0},
	}
	for _, tc := range cases {
		store := ticketstore.NewMemory()
		cls := &fakeClassifier{completion: `{"priority":"` + tc.priority + `","location":"x","ticket_type":"other"}`}
		w := newTicketWorkflow(cls, store)

		state := w.Run(context.Background(), sampleEntries())
		if tc.priority == "" {
			if state.Status != TicketFailed {
				t.Fatalf("priority %q: expected validation failure", tc.priority)
			}
			continue
		}
		if state.Status != TicketCompleted {
			t.Fatalf("priority %q: status = %s %+v", tc.priority, state.Status, state.Err)
		}
		rec, _ := store.Get(state.TicketID)
		if rec["severity_score"] != tc.want {
			t.Fatalf("priority %q: severity = %v, want %d", tc.priority, rec["severity_score"], tc.want)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  \n```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tc := range cases {
		if got := stripCodeFence(tc.in); got != tc.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTicketWorkflow_DefaultIDFormat(t *testing.T) {
	w := &TicketWorkflow{}
	id := w.newTicketID()
	if !strings.HasPrefix(id, "TICKET-") || len(id) != len("TICKET-")+8 {
		t.Fatalf("id = %q", id)
	}
	suffix := strings.TrimPrefix(id, "TICKET-")
	if suffix != strings.ToUpper(suffix) {
		t.Fatalf("suffix not uppercase: %q", suffix)
	}
}
