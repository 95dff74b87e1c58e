// Package main provides the erpdb CLI.
package main

import "github.com/mesh-intelligence/erpdb/internal/cli"

func main() {
	cli.Execute()
}
