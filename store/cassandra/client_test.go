package cassandra

import (
	"testing"

	"github.com/sop-txmanager/dynatx"
	"github.com/sop-txmanager/dynatx/store"
)

func TestCheckExpectedNotExists(t *testing.T) {
	if err := checkExpected(nil, false, store.Expected{"tx_uuid": store.NotExists()}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := checkExpected(dynatx.Item{"tx_uuid": dynatx.S("a")}, true, store.Expected{"tx_uuid": store.NotExists()}); err == nil {
		t.Fatal("expected conditional check failure")
	}
}

func TestCheckExpectedEqualTo(t *testing.T) {
	existing := dynatx.Item{"bal": dynatx.N("10")}
	if err := checkExpected(existing, true, store.Expected{"bal": store.EqualTo(dynatx.N("10"))}); err != nil {
		t.Fatalf("expected match, got %v", err)
	}
	if err := checkExpected(existing, true, store.Expected{"bal": store.EqualTo(dynatx.N("20"))}); err == nil {
		t.Fatal("expected mismatch to fail")
	}
	if err := checkExpected(nil, false, store.Expected{"bal": store.EqualTo(dynatx.N("10"))}); err == nil {
		t.Fatal("expected missing attribute on missing row to fail")
	}
}

func TestApplyUpdateSetAndRemove(t *testing.T) {
	existing := dynatx.Item{"id": dynatx.S("a"), "bal": dynatx.N("10")}
	updated := applyUpdate(existing, dynatx.Key{"id": dynatx.S("a")}, map[string]store.AttributeUpdate{
		"bal":  {Action: store.ActionPut, Value: dynatx.N("20")},
		"note": {Action: store.ActionDelete},
	})
	if updated["bal"].Str != "20" {
		t.Fatalf("bal=%v", updated["bal"])
	}
	if _, has := updated["note"]; has {
		t.Fatal("expected note removed")
	}
	if existing["bal"].Str != "10" {
		t.Fatal("applyUpdate mutated the original item")
	}
}

func TestApplyUpdateOnMissingRowSeedsFromKey(t *testing.T) {
	updated := applyUpdate(nil, dynatx.Key{"tx_uuid": dynatx.S("t1")}, map[string]store.AttributeUpdate{
		"status": {Action: store.ActionPut, Value: dynatx.S("START")},
	})
	if updated["tx_uuid"].Str != "t1" || updated["status"].Str != "START" {
		t.Fatalf("updated=%v", updated)
	}
}

func TestSetUnionAndDifference(t *testing.T) {
	cur := dynatx.SSet("a", "b")
	union := setUnion(cur, dynatx.SSet("b", "c"))
	if len(union.SS) != 3 {
		t.Fatalf("union=%v", union.SS)
	}
	diff := setDifference(union, dynatx.SSet("b"))
	if len(diff.SS) != 2 {
		t.Fatalf("diff=%v", diff.SS)
	}
}

func TestAttrEqualComparesDecimalValue(t *testing.T) {
	if !attrEqual(dynatx.N("10"), dynatx.N("10.0")) {
		t.Fatal("expected 10 and 10.0 to compare equal as decimals")
	}
	if attrEqual(dynatx.N("10"), dynatx.N("11")) {
		t.Fatal("expected 10 and 11 to differ")
	}
	if !attrEqual(dynatx.S("a"), dynatx.S("a")) {
		t.Fatal("expected non-numeric types to fall back to exact comparison")
	}
}

func TestRenderKeyPartEmptyForZeroValue(t *testing.T) {
	s, err := renderKeyPart(dynatx.AttributeValue{})
	if err != nil || s != "" {
		t.Fatalf("s=%q err=%v", s, err)
	}
	s, err = renderKeyPart(dynatx.S("a"))
	if err != nil || s == "" {
		t.Fatalf("s=%q err=%v", s, err)
	}
}
