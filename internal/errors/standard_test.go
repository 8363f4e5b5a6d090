package errors

import "testing"

func TestErrorMessageIncludesCategoryAndCode(t *testing.T) {
	err := OverLimit("name", 2000, 1024)

	want := "[CODEC:OVER_LIMIT]"
	if got := err.Error(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("Error() = %q, want prefix %q", got, want)
	}
}

func TestCallerIsCapturedFromConstructorCaller(t *testing.T) {
	err := LinkNotFound("svc@tcp://127.0.0.1:9000")
	if err.Caller == "unknown" {
		t.Error("Caller not captured")
	}
}
