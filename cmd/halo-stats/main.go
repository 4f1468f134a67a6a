// Package main is the entry point for the halo-stats CLI, which aggregates
// Halo match history into per-player and per-server statistics.
package main

func main() {
	Execute()
}
