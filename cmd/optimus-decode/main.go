package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"optimus-console-go/internal/frame"
	"optimus-console-go/internal/recorder"
)

func main() {
	var (
		path   = flag.String("path", "", "File holding a base64 observation, or a session recording with -recording")
		isRec  = flag.Bool("recording", false, "Treat -path as a session recording and extract its observations")
		limit  = flag.Int("limit", 5, "Max observations to extract from a recording (0 = all)")
		out    = flag.String("out", "obs.png", "Output PNG path; for recordings a directory")
		width  = flag.Int("width", 0, "Resize to this width (0 keeps the native size)")
		height = flag.Int("height", 0, "Resize to this height (0 keeps the native size)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("missing -path")
	}

	if !*isRec {
		data, err := os.ReadFile(*path)
		if err != nil {
			log.Fatalf("read %s: %v", *path, err)
		}
		f, err := decodeObservation(data, *width, *height)
		if err != nil {
			log.Fatalf("decode %s: %v", *path, err)
		}
		if err := writePNG(*out, f); err != nil {
			log.Fatalf("write %s: %v", *out, err)
		}
		fmt.Printf("%s: %dx%d\n", *out, f.Width(), f.Height())
		return
	}

	if err := os.MkdirAll(*out, 0o755); err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	r, err := recorder.Open(*path)
	if err != nil {
		log.Fatalf("open recording: %v", err)
	}
	defer r.Close()

	var written, failed int
	for index := 0; ; index++ {
		if *limit > 0 && written >= *limit {
			break
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Printf("record %d: %v", index, err)
			continue
		}
		kind := rec.Entry.Kind
		if (kind != recorder.KindObservation && kind != recorder.KindReset) || len(rec.Entry.Observation) == 0 {
			continue
		}
		f, err := decodeObservation(rec.Entry.Observation, *width, *height)
		if err != nil {
			failed++
			log.Printf("record %d: %v", index, err)
			continue
		}
		name := filepath.Join(*out, fmt.Sprintf("%06d_%s.png", index, kind))
		if err := writePNG(name, f); err != nil {
			log.Fatalf("write %s: %v", name, err)
		}
		written++
		fmt.Printf("%s: %dx%d at %s\n", name, f.Width(), f.Height(), rec.Time.Format("15:04:05.000"))
	}
	fmt.Printf("summary: written=%d failed=%d\n", written, failed)
}

// decodeObservation accepts raw image bytes as well as the base64 text the
// server pushes.
func decodeObservation(data []byte, width, height int) (*frame.Frame, error) {
	if f, err := frame.DecodeImage(data, width, height, frame.SourceStream); err == nil {
		return f, nil
	}
	return frame.Decode(string(data), width, height, frame.SourceStream)
}

func writePNG(path string, f *frame.Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.EncodePNG(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}
