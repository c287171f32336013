package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"agrolens-go/internal/output"
)

func main() {
	var (
		path  = flag.String("path", "", "Path to rawlog .bin file")
		limit = flag.Int("limit", 1, "Number of records to dump (0 = all)")
	)
	flag.Parse()

	if *path == "" {
		log.Fatal("path is required")
	}

	f, err := os.Open(*path)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}
	defer f.Close()

	reader, err := output.NewRawLogReader(f)
	if err != nil {
		log.Fatalf("open rawlog: %v", err)
	}

	for count := 0; *limit <= 0 || count < *limit; count++ {
		ts, payload, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			log.Fatalf("record %d: %v", count, err)
		}
		if len(payload) == 0 {
			log.Printf("record %d: empty payload", count)
			continue
		}

		var decoded any
		if err := cbor.Unmarshal(payload, &decoded); err != nil {
			log.Printf("record %d: CBOR decode error: %v", count, err)
			continue
		}

		pretty, err := json.MarshalIndent(output.NormalizeJSONValue(decoded), "", "  ")
		if err != nil {
			log.Printf("record %d: JSON encode error: %v", count, err)
			continue
		}

		log.Printf("record %d timestamp=%s size=%d", count, ts.Format(time.RFC3339Nano), len(payload))
		fmt.Println(string(pretty))
	}
}
