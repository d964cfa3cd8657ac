package protocol

import (
	"bytes"
	"testing"
)

func FuzzDecodeLine(f *testing.F) {
	seeds := []string{
		"Gesture:Rotate\n",
		"Identity:Kid\n",
		"TeacherReport:{\"alice\": \"happy\"}\n",
		"TeacherReport:{}\n",
		"Animal:cat",
		"Habitat:",
		":",
		"TeacherReport:{\"a\\u00e9\": \"x\\\"y\"}",
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		ev, err := Decode(data)
		if err != nil {
			return
		}

		line, err := Encode(ev)
		if err != nil {
			t.Fatalf("decoded event %+v failed to encode: %v", ev, err)
		}
		if bytes.Count(line, []byte{Terminator}) != 1 || line[len(line)-1] != Terminator {
			t.Fatalf("encoded line %q is not a single terminated line", line)
		}

		again, err := Decode(line)
		if err != nil {
			t.Fatalf("re-decode of %q failed: %v", line, err)
		}
		assertSameEvent(t, again, ev)
	})
}
