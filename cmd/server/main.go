// Package main is the entry point for server-api.
package main

func main() {
	Execute()
}
