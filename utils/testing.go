package utils

import (
	"testing"

	"golang.org/x/exp/slices"
)

// AssertEquals verifies that the expected generic object T is equal to result T.
// If expected differs from result in any way, the test will fail immediately.
func AssertEquals[T comparable](t *testing.T, expected T, result T) {
	if expected != result {
		t.Logf("%s is failed. Got '%v', expected '%v'", t.Name(), result, expected)
		t.FailNow()
	}
}

// AssertEqualsMsg is like AssertEquals, but it also prints a custom message when the test fails.
func AssertEqualsMsg[T comparable](t *testing.T, expected T, result T, msg string) {
	if expected != result {
		t.Logf("%s is failed; %s - Got '%v', expected '%v'", t.Name(), msg, result, expected)
		t.FailNow()
	}
}

// AssertSliceEquals is like AssertEquals but works for slices.
// Each element of the expected slice must be equal to the corresponding element
// in the result slice, in the same order.
func AssertSliceEquals[T comparable](t *testing.T, expected []T, result []T) {
	if equal := slices.Equal(expected, result); !equal {
		t.Logf("%s is failed Got '%v', expected '%v'", t.Name(), result, expected)
		t.FailNow()
	}
}

// AssertTrue fails the test immediately unless result holds.
func AssertTrue(t *testing.T, result bool) {
	if !result {
		t.Logf("%s is failed. Got 'false', expected 'true'", t.Name())
		t.FailNow()
	}
}

// AssertFalse fails the test immediately if result holds.
func AssertFalse(t *testing.T, result bool) {
	if result {
		t.Logf("%s is failed. Got 'true', expected 'false'", t.Name())
		t.FailNow()
	}
}

// AssertNil checks that result is nil. Useful for checking that there are no errors.
func AssertNil(t *testing.T, result interface{}) {
	if nil != result {
		t.Logf("%s is failed. Got '%v', expected nil", t.Name(), result)
		t.FailNow()
	}
}

// AssertNilMsg is like AssertNil, but it also prints a custom message when the test fails.
func AssertNilMsg(t *testing.T, result interface{}, msg string) {
	if nil != result {
		t.Logf("%s is failed; %s - Got '%v', expected nil", t.Name(), result, msg)
		t.FailNow()
	}
}

// AssertNonNil checks that result is non-nil.
func AssertNonNil(t *testing.T, result interface{}) {
	if nil == result {
		t.Logf("%s is failed. Got '%v', expected non-nil", t.Name(), result)
		t.FailNow()
	}
}
