package app

import (
	"errors"
	"testing"
)

func TestNewOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{name: "with parameters", operation: "sync", parameters: "3"},
		{name: "empty parameters", operation: "register", parameters: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != StatusSuccess {
				t.Errorf("Status = %q, want %q", op.Status, StatusSuccess)
			}
			if op.ID != 0 {
				t.Errorf("ID = %d, want 0", op.ID)
			}
		})
	}
}

func TestOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
		{name: "persisted when ID is large", id: 99999, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOperation_Record(t *testing.T) {
	op := NewOperation("sync", "1")

	if err := op.Record(nil); err != nil {
		t.Fatalf("Record(nil) = %v", err)
	}
	if op.Status != StatusSuccess {
		t.Errorf("Status = %q after success, want %q", op.Status, StatusSuccess)
	}

	boom := errors.New("boom")
	if err := op.Record(boom); !errors.Is(err, boom) {
		t.Errorf("Record() = %v, want the recorded error", err)
	}
	op.Record(nil)
	if op.Status != StatusError {
		t.Errorf("Status = %q, want sticky %q", op.Status, StatusError)
	}
}
