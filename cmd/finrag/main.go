// Package main is the entry point for the FinRAG retrieval service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	app "github.com/kart-io/finrag/internal/finrag"
)

func main() {
	app.NewApp().Run()
}
