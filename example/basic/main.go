package main

import (
	"log"
	"net/http"

	"github.com/iotflow/tierflow"
)

func main() {
	p, err := tierflow.OpenPath("../../config.yaml")
	if err != nil {
		log.Fatalf("open pipeline: %v", err)
	}
	defer p.Close()

	log.Println("telemetry API on :8080")
	if err := http.ListenAndServe(":8080", p.Handler()); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
