package view_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Mixa84/ain/core/view"
	"github.com/Mixa84/ain/storage"
)

var (
	alphaPrefix = view.MustRegisterPrefix(0xA0, "test/alpha")
	betaPrefix  = view.MustRegisterPrefix(0xA1, "test/beta")
)

type rawValue []byte

func (v rawValue) MarshalDBValue() ([]byte, error) { return v, nil }

func (v *rawValue) UnmarshalDBValue(b []byte) error {
	*v = append(rawValue(nil), b...)
	return nil
}

func newTestView(t *testing.T) *view.View {
	t.Helper()
	return view.New(storage.NewMemDB())
}

func TestWriteReadErase(t *testing.T) {
	v := newTestView(t)
	key := view.RawKey("k1")
	if err := v.Write(alphaPrefix, key, rawValue("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got rawValue
	ok, err := v.Read(alphaPrefix, key, &got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !ok || string(got) != "hello" {
		t.Fatalf("read returned ok=%v value=%q", ok, got)
	}
	if err := v.Erase(alphaPrefix, key); err != nil {
		t.Fatalf("erase: %v", err)
	}
	ok, err = v.Read(alphaPrefix, key, &got)
	if err != nil {
		t.Fatalf("read after erase: %v", err)
	}
	if ok {
		t.Fatal("record survived erase")
	}
	if err := v.Erase(alphaPrefix, key); err != nil {
		t.Fatalf("erase of absent key: %v", err)
	}
}

func TestReadAbsentIsNotAnError(t *testing.T) {
	v := newTestView(t)
	var got rawValue
	ok, err := v.Read(alphaPrefix, view.RawKey("missing"), &got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ok {
		t.Fatal("absent key reported as present")
	}
}

func TestReplaceRequiresExisting(t *testing.T) {
	v := newTestView(t)
	key := view.RawKey("k1")
	err := v.Replace(alphaPrefix, key, rawValue("v1"))
	if !errors.Is(err, view.ErrReplaceMissing) {
		t.Fatalf("replace of absent record: got %v, want ErrReplaceMissing", err)
	}
	if ok, _ := v.Exists(alphaPrefix, key); ok {
		t.Fatal("failed replace left a record behind")
	}
	if err := v.Write(alphaPrefix, key, rawValue("v1")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := v.Replace(alphaPrefix, key, rawValue("v2")); err != nil {
		t.Fatalf("replace: %v", err)
	}
	var got rawValue
	if _, err := v.Read(alphaPrefix, key, &got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("got %q after replace, want v2", got)
	}
}

func TestPrefixesAreIsolated(t *testing.T) {
	v := newTestView(t)
	key := view.RawKey("shared")
	if err := v.Write(alphaPrefix, key, rawValue("alpha")); err != nil {
		t.Fatalf("write alpha: %v", err)
	}
	if err := v.Write(betaPrefix, key, rawValue("beta")); err != nil {
		t.Fatalf("write beta: %v", err)
	}
	var got rawValue
	if _, err := v.Read(alphaPrefix, key, &got); err != nil {
		t.Fatalf("read alpha: %v", err)
	}
	if string(got) != "alpha" {
		t.Fatalf("alpha read %q", got)
	}
	if err := v.Erase(betaPrefix, key); err != nil {
		t.Fatalf("erase beta: %v", err)
	}
	if ok, _ := v.Exists(alphaPrefix, key); !ok {
		t.Fatal("erase under one prefix removed the other's record")
	}
}

func TestForEachOrderAndStart(t *testing.T) {
	v := newTestView(t)
	for _, k := range []string{"c", "a", "b", "d"} {
		if err := v.Write(alphaPrefix, view.RawKey(k), rawValue("v-"+k)); err != nil {
			t.Fatalf("write %q: %v", k, err)
		}
	}
	// A neighbouring prefix must never leak into the scan.
	if err := v.Write(betaPrefix, view.RawKey("a"), rawValue("other")); err != nil {
		t.Fatalf("write beta: %v", err)
	}

	var keys []string
	err := v.ForEach(alphaPrefix, nil, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if len(keys) != len(want) {
		t.Fatalf("got keys %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("got keys %v, want %v", keys, want)
		}
	}

	keys = nil
	err = v.ForEach(alphaPrefix, view.RawKey("b"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return len(keys) < 2
	})
	if err != nil {
		t.Fatalf("foreach from b: %v", err)
	}
	if len(keys) != 2 || keys[0] != "b" || keys[1] != "c" {
		t.Fatalf("got keys %v, want [b c]", keys)
	}
}

func TestLowerBoundCursor(t *testing.T) {
	v := newTestView(t)
	for _, k := range []string{"aa", "ab", "ba"} {
		if err := v.Write(alphaPrefix, view.RawKey(k), rawValue("v-"+k)); err != nil {
			t.Fatalf("write %q: %v", k, err)
		}
	}

	cur, err := v.LowerBound(alphaPrefix, view.RawKey("ac"))
	if err != nil {
		t.Fatalf("lower bound: %v", err)
	}
	defer cur.Release()
	if !cur.Valid() {
		t.Fatal("cursor not valid at ac")
	}
	if !bytes.Equal(cur.Key(), []byte("ba")) {
		t.Fatalf("cursor at %q, want ba", cur.Key())
	}
	var key view.RawKey
	if err := cur.DecodeKey(&key); err != nil {
		t.Fatalf("decode key: %v", err)
	}
	var val rawValue
	if err := cur.DecodeValue(&val); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if string(key) != "ba" || string(val) != "v-ba" {
		t.Fatalf("decoded %q=%q", key, val)
	}
	cur.Next()
	if cur.Valid() {
		t.Fatalf("cursor valid past end at %q", cur.Key())
	}
}

func TestLowerBoundPastEnd(t *testing.T) {
	v := newTestView(t)
	if err := v.Write(alphaPrefix, view.RawKey("a"), rawValue("v")); err != nil {
		t.Fatalf("write: %v", err)
	}
	cur, err := v.LowerBound(alphaPrefix, view.RawKey("z"))
	if err != nil {
		t.Fatalf("lower bound: %v", err)
	}
	defer cur.Release()
	if cur.Valid() {
		t.Fatalf("cursor valid at %q, want exhausted", cur.Key())
	}
}
