package main

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWriteOutputs(t *testing.T) {
	var buffer bytes.Buffer
	output := []byte(`{"matches":false,"mismatchCount":4,"key":"home","regions":[{"x":0,"y":0,"width":2,"height":2}],"highlightedUrl":"file:///tmp/diff/home/highlighted.png"}`)

	if err := writeOutputs(&buffer, output); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `highlightedUrl=file:///tmp/diff/home/highlighted.png
key=home
matches=false
mismatchCount=4
regions=[{"x":0,"y":0,"width":2,"height":2}]
`
	if diff := cmp.Diff(want, buffer.String()); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if err := writeOutputs(&buffer, []byte("not json")); err == nil {
		t.Error("Expected error")
	}
}
