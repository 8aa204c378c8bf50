// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command kar creates and extracts kar resource archives.
package main

import (
	"errors"
	"flag"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/devblok/korures/utility/kar"
	log "github.com/sirupsen/logrus"
)

func init() {
	currentUserName = "unknown"
	if u, err := user.Current(); err == nil {
		currentUserName = u.Username
	}
}

var (
	currentUserName string
	author          = flag.String("author", "", "Set the author of the package when compressing")
	version         = flag.Int64("version", 1, "Archive version number to create it with")
	extract         = flag.String("e", "", "Extract the file given")
	compress        = flag.String("c", "", "Compress the given file/folder")
	dstFile         = flag.String("f", "out.kar", "Destination file")
	outDir          = flag.String("o", ".", "Directory to extract into")
	silent          = flag.Bool("s", false, "Silent")
)

func main() {
	flag.Parse()
	if *silent {
		log.SetLevel(log.WarnLevel)
	}

	if *extract != "" && *compress != "" {
		log.Fatal(errors.New("only one operation at a time"))
	}

	switch {
	case *extract != "":
		if err := extractFiles(); err != nil {
			log.Fatal(err)
		}
	case *compress != "":
		if err := compressFiles(); err != nil {
			log.Fatal(err)
		}
	default:
		flag.PrintDefaults()
	}
}

func compressFiles() error {
	if _, err := os.Stat(*dstFile); err == nil {
		return errors.New("destination file exists, will not overwrite")
	}

	var filesToCompress []string
	if err := filepath.Walk(*compress, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		filesToCompress = append(filesToCompress, path)
		return nil
	}); err != nil {
		return err
	}

	name := *author
	if name == "" {
		name = currentUserName
	}
	karBuilder, err := kar.NewBuilder(kar.Header{
		Author:      name,
		DateCreated: time.Now().Unix(),
		Version:     *version,
	})
	if err != nil {
		return err
	}
	defer karBuilder.Close()

	for _, ftc := range filesToCompress {
		rel, err := filepath.Rel(*compress, ftc)
		if err != nil || rel == "." {
			rel = filepath.Base(ftc)
		}
		if err := addFile(karBuilder, rel, ftc); err != nil {
			return err
		}
		log.WithField("file", rel).Info("added")
	}

	dst, err := os.Create(*dstFile)
	if err != nil {
		return err
	}
	written, err := karBuilder.WriteTo(dst)
	if err != nil {
		dst.Close()
		return err
	}
	log.WithFields(log.Fields{"archive": *dstFile, "bytes": written, "files": karBuilder.Len()}).Info("archive written")
	return dst.Close()
}

func addFile(b *kar.Builder, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return b.Add(name, f)
}

func extractFiles() error {
	ar, err := kar.OpenFile(*extract)
	if err != nil {
		return err
	}
	defer ar.Close()

	dir := *outDir
	header := ar.Header()
	log.WithFields(log.Fields{
		"author":  header.Author,
		"version": header.Version,
		"created": time.Unix(header.DateCreated, 0),
	}).Info("extracting")

	for _, name := range ar.Names() {
		data, err := ar.ReadAll(name)
		if err != nil {
			return err
		}
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
		log.WithField("file", name).Info("extracted")
	}
	return nil
}
