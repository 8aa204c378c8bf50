// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func TestAddAndWrite(t *testing.T) {
	builder, err := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	if err := builder.Add("test", bytes.NewReader([]byte("idunvovkjnreovmegihjbrqlkmfrjnb"))); err != nil {
		t.Error(err)
	}
	if err := builder.Add("./dir/test2", bytes.NewReader([]byte("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"))); err != nil {
		t.Error(err)
	}

	if len(builder.files) != 2 {
		t.Error("incorrect number of files present")
	}
	if builder.files[1].Name != "dir/test2" {
		t.Errorf("name not cleaned: %s", builder.files[1].Name)
	}

	var buf bytes.Buffer
	written, err := builder.WriteTo(&buf)
	if err != nil {
		t.Error(err)
	}
	if written != int64(buf.Len()) {
		t.Errorf("reported %d bytes, wrote %d", written, buf.Len())
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("KAR\x00")) {
		t.Error("magic missing")
	}
}

func TestAddDuplicate(t *testing.T) {
	builder, err := NewBuilder(Header{Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	if err := builder.Add("a/b.txt", bytes.NewReader([]byte("one"))); err != nil {
		t.Fatal(err)
	}
	if err := builder.Add("/a/b.txt", bytes.NewReader([]byte("two"))); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestCloseRemovesTemp(t *testing.T) {
	builder, err := NewBuilder(Header{Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := builder.Add("x", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatal(err)
	}
	dir := builder.tempDir
	if err := builder.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir still present: %v", err)
	}
}

func TestHeaderSizeEncoding(t *testing.T) {
	num, err := binaryToint64(int64ToBinary(123456789))
	if err != nil {
		t.Fatal(err)
	}
	if num != 123456789 {
		t.Errorf("got %d", num)
	}
	if _, err := binaryToint64([]byte{1, 2}); err != ErrFileFormat {
		t.Errorf("expected ErrFileFormat, got %v", err)
	}
}
