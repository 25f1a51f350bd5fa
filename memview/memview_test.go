package memview

import (
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAppend(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("hello ")))
	mv.Append(New([]byte("prince!")))
	if mv.String() != "hello prince!" {
		t.Errorf(`expected "hello prince!" got "%s"`, mv.String())
	} else if mv.Len() != int64(len("hello prince!")) {
		t.Errorf(`expected new length %d, got %d`, len("hello prince!"), mv.Len())
	}
}

func TestDeepCopy(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("hello ")))

	cp := mv.DeepCopy()
	mv.Append(New([]byte("prince!")))

	if cp.String() != "hello " {
		t.Errorf(`expected "hello " got "%s"`, cp.String())
	}
	if mv.String() != "hello prince!" {
		t.Errorf(`expected "hello prince!" got "%s"`, mv.String())
	}
}

func TestGetByte(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("ab")))
	mv.Append(New([]byte("cd")))

	for i, want := range []byte("abcd") {
		if got := mv.GetByte(int64(i)); got != want {
			t.Errorf("expected %c at %d, got %c", want, i, got)
		}
	}
	if got := mv.GetByte(-1); got != 0 {
		t.Errorf("expected 0 for negative index, got %v", got)
	}
	if got := mv.GetByte(4); got != 0 {
		t.Errorf("expected 0 for out-of-bounds index, got %v", got)
	}
}

func TestBytes(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("hel")))
	mv.Append(New([]byte("lo")))

	if diff := cmp.Diff([]byte("hello"), mv.Bytes()); diff != "" {
		t.Errorf("found diff: %s", diff)
	}
}

func TestSubView(t *testing.T) {
	testCases := []struct {
		name     string
		input    []string
		start    int64
		end      int64
		expected string
	}{
		{"within one buffer", []string{"0123456789"}, 2, 5, "234"},
		{"cross buffer boundary", []string{"0123", "456789"}, 2, 5, "234"},
		{"whole view", []string{"01", "23", "45"}, 0, 6, "012345"},
		{"empty on invalid range", []string{"0123"}, 3, 3, ""},
		{"ends at buffer boundary", []string{"0123", "4567"}, 0, 4, "0123"},
	}

	for _, c := range testCases {
		var mv MemView
		for _, b := range c.input {
			mv.Append(New([]byte(b)))
		}
		if got := mv.SubView(c.start, c.end).String(); got != c.expected {
			t.Errorf("[%s] expected %q, got %q", c.name, c.expected, got)
		}
	}
}

func TestIndex(t *testing.T) {
	testCases := []struct {
		name     string
		input    []string
		start    int64
		sep      string
		expected int64
	}{
		{"within one buffer", []string{"GET / HTTP/1.1"}, 0, " ", 3},
		{"across buffers", []string{"12\r", "\n34"}, 0, "\r\n", 2},
		{"respects start", []string{"a b c"}, 2, " ", 3},
		{"not found", []string{"abc", "def"}, 0, "\r\n", -1},
		{"empty separator", []string{"abc"}, 1, "", 1},
		{"separator split over three buffers", []string{"a\r", "", "\nb"}, 0, "\r\n", 1},
	}

	for _, c := range testCases {
		var mv MemView
		for _, b := range c.input {
			mv.Append(New([]byte(b)))
		}
		if got := mv.Index(c.start, []byte(c.sep)); got != c.expected {
			t.Errorf("[%s] expected %d, got %d", c.name, c.expected, got)
		}
	}
}

func TestEqual(t *testing.T) {
	mk := func(parts ...string) MemView {
		var mv MemView
		for _, p := range parts {
			mv.Append(New([]byte(p)))
		}
		return mv
	}

	if !mk("hello", " world").Equal(mk("hello ", "world")) {
		t.Error("expected views with different segmentation to be equal")
	}
	if mk("hello").Equal(mk("hellp")) {
		t.Error("expected views with different content to differ")
	}
	if mk("hello").Equal(mk("hello!")) {
		t.Error("expected views with different length to differ")
	}
}

func TestReader(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("hello ")))
	mv.Append(New([]byte("prince!")))

	r := mv.CreateReader()
	var sb strings.Builder
	n, err := io.Copy(&sb, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != mv.Len() || sb.String() != "hello prince!" {
		t.Errorf("expected %q, got %q", "hello prince!", sb.String())
	}
}

func TestReadByte(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("ab")))
	mv.Append(New([]byte("c")))

	r := mv.CreateReader()
	for _, want := range []byte("abc") {
		got, err := r.ReadByte()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("expected %c, got %c", want, got)
		}
	}
	if _, err := r.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestClear(t *testing.T) {
	var mv MemView
	mv.Append(New([]byte("hello")))
	mv.Clear()
	if mv.Len() != 0 || mv.String() != "" {
		t.Errorf("expected empty view after Clear, got %q", mv.String())
	}
}
