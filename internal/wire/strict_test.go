package wire

import (
	"strings"
	"testing"
)

type testFrame struct {
	Name   string `json:"name"`
	Method string `json:"method"`
}

func TestStrictUnmarshalRejectsDuplicateKeys(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantErr string
	}{
		{
			name:    "duplicate with different case",
			json:    `{"name":"legitimate","Name":"smuggled"}`,
			wantErr: "duplicate key with different case",
		},
		{
			name:    "triple duplicate with different cases",
			json:    `{"name":"a","Name":"b","NAME":"c"}`,
			wantErr: "duplicate key with different case",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result testFrame
			err := strictUnmarshal([]byte(tt.json), &result)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("strictUnmarshal(%q) = %v, want error containing %q", tt.json, err, tt.wantErr)
			}
		})
	}
}

func TestStrictUnmarshalRejectsUnknownFields(t *testing.T) {
	var result testFrame
	err := strictUnmarshal([]byte(`{"name":"a","method":"b","extra":"c"}`), &result)
	if err == nil {
		t.Fatal("strictUnmarshal accepted an unknown field")
	}
}

func TestStrictUnmarshalAcceptsValid(t *testing.T) {
	var result testFrame
	if err := strictUnmarshal([]byte(`{"name":"a","method":"b"}`), &result); err != nil {
		t.Fatalf("strictUnmarshal: %v", err)
	}
	if result.Name != "a" || result.Method != "b" {
		t.Fatalf("strictUnmarshal: got %+v", result)
	}
}
