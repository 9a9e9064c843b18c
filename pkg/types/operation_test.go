package types

import "testing"

func TestParseOpKind(t *testing.T) {
	cases := []struct {
		in   string
		want OpKind
		ok   bool
	}{
		{"INSERT", OpInsert, true},
		{"insert", OpInsert, true},
		{"ADD", OpInsert, true},
		{"CREATE", OpInsert, true},
		{"UPDATE", OpUpdate, true},
		{"modify", OpUpdate, true},
		{"DELETE", OpDelete, true},
		{"remove", OpDelete, true},
		{"INVALIDATE", OpDelete, true},
		{"  delete  ", OpDelete, true},
		{"UPSERT", 0, false},
		{"", 0, false},
	}

	for _, tc := range cases {
		got, ok := ParseOpKind(tc.in)
		if ok != tc.ok {
			t.Errorf("ParseOpKind(%q): ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("ParseOpKind(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestOpKind_String(t *testing.T) {
	if OpInsert.String() != "INSERT" || OpUpdate.String() != "UPDATE" || OpDelete.String() != "DELETE" {
		t.Error("OpKind wire names changed")
	}
	if OpKind(99).String() != "UNKNOWN" {
		t.Error("out-of-range kind must stringify as UNKNOWN")
	}
}

func TestOperation_IsMalformed(t *testing.T) {
	cases := []struct {
		name string
		op   Operation
		want bool
	}{
		{"complete insert", Operation{Kind: OpInsert, Subject: "user", Predicate: "NAME", Object: "Ada"}, false},
		{"missing subject", Operation{Kind: OpInsert, Predicate: "NAME", Object: "Ada"}, true},
		{"missing predicate", Operation{Kind: OpInsert, Subject: "user", Object: "Ada"}, true},
		{"insert without object", Operation{Kind: OpInsert, Subject: "user", Predicate: "NAME"}, true},
		{"delete without object", Operation{Kind: OpDelete, Subject: "user", Predicate: "NAME"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.op.IsMalformed(); got != tc.want {
				t.Errorf("IsMalformed() = %v, want %v", got, tc.want)
			}
		})
	}
}
