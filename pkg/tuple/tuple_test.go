package tuple

import (
	"testing"
)

func TestSplitObject(t *testing.T) {
	for _, tc := range []struct {
		name         string
		object       string
		expectedType string
		expectedOID  string
	}{
		{
			name: "empty",
		},
		{
			name:         "type only",
			object:       "group:",
			expectedType: "group",
		},
		{
			name:        "no separator",
			object:      "group",
			expectedOID: "group",
		},
		{
			name:         "valid input",
			object:       "group:eng",
			expectedType: "group",
			expectedOID:  "eng",
		},
		{
			name:         "namespaced type",
			object:       "rbac/v1role:5c9fa917",
			expectedType: "rbac/v1role",
			expectedOID:  "5c9fa917",
		},
		{
			name:         "resource type",
			object:       "cost_management/aws_account:123456",
			expectedType: "cost_management/aws_account",
			expectedOID:  "123456",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			td, oid := SplitObject(tc.object)
			if td != tc.expectedType {
				t.Errorf("SplitObject(%s) type was %s, want %s", tc.object, td, tc.expectedType)
			}
			if oid != tc.expectedOID {
				t.Errorf("SplitObject(%s) object id was %s, want %s", tc.object, oid, tc.expectedOID)
			}
		})
	}
}

func TestRelationshipString(t *testing.T) {
	for _, tc := range []struct {
		name     string
		rel      Relationship
		expected string
	}{
		{
			name:     "direct subject",
			rel:      New(NewObject("group", "eng"), "member", Direct(NewObject("user", "alice"))),
			expected: "group:eng#member@user:alice",
		},
		{
			name:     "subject set",
			rel:      New(NewObject("group", "eng"), "member", SubjectSet(NewObject("group", "platform"), "member")),
			expected: "group:eng#member@group:platform#member",
		},
		{
			name:     "wildcard subject",
			rel:      New(NewObject("role", "r1"), "inventory_hosts_read", Direct(NewObject("user", Wildcard))),
			expected: "role:r1#inventory_hosts_read@user:*",
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rel.String(); got != tc.expected {
				t.Errorf("String() was %s, want %s", got, tc.expected)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range []string{
		"group:eng#member@user:alice",
		"group:eng#member@group:platform#member",
		"role:r1#cost_management_all_read@user:*",
		"rbac/v1role:r1#role@role:8f14e45f",
		"cost_management/aws_account:123456#user_grant@role_binding:b1",
	} {
		rel, err := Parse(s)
		if err != nil {
			t.Fatalf("Parse(%s) returned error: %v", s, err)
		}
		if rel.String() != s {
			t.Errorf("round trip of %s was %s", s, rel.String())
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"group:eng",
		"group:eng#member",
		"#member@user:alice",
		"group:eng#member@",
		"group:eng#@user:alice",
		"group:#member@user:alice",
	} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%s) expected error, got none", s)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := New(NewObject("group", "eng"), "member", Direct(NewObject("user", "alice")))
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() returned unexpected error: %v", err)
	}

	for _, tc := range []struct {
		name string
		rel  Relationship
	}{
		{
			name: "empty object type",
			rel:  New(NewObject("", "eng"), "member", Direct(NewObject("user", "alice"))),
		},
		{
			name: "space in relation",
			rel:  New(NewObject("group", "eng"), "mem ber", Direct(NewObject("user", "alice"))),
		},
		{
			name: "colon in subject id",
			rel:  New(NewObject("group", "eng"), "member", Direct(NewObject("user", "a:b"))),
		},
		{
			name: "hash in subject relation",
			rel:  New(NewObject("group", "eng"), "member", SubjectSet(NewObject("group", "x"), "mem#ber")),
		},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.rel.Validate(); err == nil {
				t.Errorf("Validate() expected error, got none")
			}
		})
	}
}
