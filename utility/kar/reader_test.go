// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devblok/korures/utility/kar"
)

var (
	testString1 = "this is a test"
	testString2 = "this is another test"
	testString3 = strings.Repeat("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb", 4096)
)

func buildArchive(t testing.TB) []byte {
	t.Helper()
	builder, err := kar.NewBuilder(kar.Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	for name, data := range map[string]string{
		"test/test1.txt": testString1,
		"test/test2.txt": testString2,
		"big.txt":        testString3,
	} {
		if err := builder.Add(name, strings.NewReader(data)); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if _, err := builder.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func readFileAndCompare(f io.Reader, expected string) error {
	result, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if len(result) < len(expected) {
		return errors.New("incorrect number of bytes read")
	}
	if string(result) != expected {
		return errors.New("test string does not match up")
	}
	return nil
}

func TestOpen(t *testing.T) {
	ar, err := kar.Open(bytes.NewReader(buildArchive(t)))
	if err != nil {
		t.Fatal(err)
	}

	if ar.Header().Author != "devblok" {
		t.Errorf("author %q", ar.Header().Author)
	}
	names := ar.Names()
	if len(names) != 3 || names[0] != "big.txt" || names[2] != "test/test2.txt" {
		t.Errorf("unexpected names %v", names)
	}
}

func TestOpenAndRead(t *testing.T) {
	ar, err := kar.Open(bytes.NewReader(buildArchive(t)))
	if err != nil {
		t.Fatal(err)
	}

	for name, expected := range map[string]string{
		"test/test1.txt": testString1,
		"test/test2.txt": testString2,
		"big.txt":        testString3,
	} {
		f, err := ar.Open(name)
		if err != nil {
			t.Error(err)
			continue
		}
		if f.Size() != int64(len(expected)) {
			t.Errorf("%s: size %d, want %d", name, f.Size(), len(expected))
		}
		if err := readFileAndCompare(f, expected); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestOpenAndReadAll(t *testing.T) {
	ar, err := kar.Open(bytes.NewReader(buildArchive(t)))
	if err != nil {
		t.Fatal(err)
	}

	if f, err := ar.ReadAll("./test/test1.txt"); err != nil {
		t.Error(err)
	} else if string(f) != testString1 {
		t.Error("result is not expected value")
	}

	if _, err := ar.ReadAll("missing.txt"); !errors.Is(err, kar.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenmmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opentest.kar")
	if err := os.WriteFile(path, buildArchive(t), 0644); err != nil {
		t.Fatal(err)
	}

	ar, err := kar.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	defer ar.Close()

	if f, err := ar.ReadAll("test/test2.txt"); err != nil {
		t.Error(err)
	} else if string(f) != testString2 {
		t.Error("result is not expected value")
	}
}

func TestOpenNotKar(t *testing.T) {
	if _, err := kar.Open(strings.NewReader("PK\x03\x04 definitely a zip file")); err != kar.ErrFileFormat {
		t.Errorf("expected ErrFileFormat, got %v", err)
	}
	if _, err := kar.Open(strings.NewReader("KA")); err != kar.ErrFileFormat {
		t.Errorf("expected ErrFileFormat for short input, got %v", err)
	}
}

func BenchmarkReadAll(b *testing.B) {
	ar, err := kar.Open(bytes.NewReader(buildArchive(b)))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ar.ReadAll("big.txt"); err != nil {
			b.Fatal(err)
		}
	}
}
