package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/fxamacker/cbor/v2"
	jsoniter "github.com/json-iterator/go"

	"optimus-console-go/internal/recorder"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	var (
		path  = flag.String("path", "", "Path to a session recording (.rec or .rec.zst)")
		limit = flag.Int("limit", 0, "Number of records to dump (0 = all)")
		kind  = flag.String("kind", "", "Only dump records of this kind (observation, command, reply, reset, control)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	r, err := recorder.Open(*path)
	if err != nil {
		log.Fatalf("open recording: %v", err)
	}
	defer r.Close()

	count, index := 0, 0
	for {
		if *limit > 0 && count >= *limit {
			return
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil && rec.Raw == nil {
			log.Fatalf("read record: %v", err)
		}
		index++
		if err != nil {
			log.Printf("record %d: %v", index-1, err)
			continue
		}
		if *kind != "" && string(rec.Entry.Kind) != *kind {
			continue
		}

		var decoded any
		if err := cbor.Unmarshal(rec.Raw, &decoded); err != nil {
			log.Printf("record %d: CBOR decode error: %v", index-1, err)
			continue
		}
		pretty, err := json.MarshalIndent(recorder.NormalizeJSONValue(decoded), "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", index-1, err)
			continue
		}

		log.Printf("record %d timestamp=%s size=%d", index-1, rec.Time.Format(time.RFC3339Nano), rec.Size)
		fmt.Println(string(pretty))
		count++
	}
}
