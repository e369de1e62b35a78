// Mongotrack - Field Change Tracking for MongoDB
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/mongotrack

package validation

import (
	"strings"
	"testing"
)

func TestGetValidator_Singleton(t *testing.T) {
	v1 := GetValidator()
	v2 := GetValidator()

	if v1 != v2 {
		t.Error("GetValidator() should return the same singleton instance")
	}

	if v1 == nil {
		t.Error("GetValidator() should not return nil")
	}
}

type testRequest struct {
	Collection string `validate:"required,collection"`
	Field      string `validate:"omitempty,fieldname"`
	Limit      int    `validate:"min=1,max=1000"`
}

func TestValidateStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   testRequest
		wantErr string
	}{
		{
			name:  "valid",
			input: testRequest{Collection: "articles", Field: "status", Limit: 10},
		},
		{
			name:    "missing collection",
			input:   testRequest{Limit: 10},
			wantErr: "is required",
		},
		{
			name:    "system collection",
			input:   testRequest{Collection: "system.users", Limit: 10},
			wantErr: "valid collection name",
		},
		{
			name:    "dotted field",
			input:   testRequest{Collection: "articles", Field: "a.b", Limit: 10},
			wantErr: "field name",
		},
		{
			name:    "limit too high",
			input:   testRequest{Collection: "articles", Limit: 5000},
			wantErr: "at most 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateStruct(&tt.input)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
			if len(err.Errors()) == 0 || err.Errors()[0].Tag() == "" {
				t.Errorf("expected field errors with their tag, got %+v", err.Errors())
			}
		})
	}
}

func TestIsFieldName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"status", "statusInfo", "_id"} {
		if !IsFieldName(ok) {
			t.Errorf("expected %q to be a field name", ok)
		}
	}
	for _, bad := range []string{"", "a.b", "$set"} {
		if IsFieldName(bad) {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
