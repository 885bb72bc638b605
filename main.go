/*
Copyright © 2025 Siphon Contributors
*/
package main

import "github.com/trobanga/siphon/cmd"

func main() {
	cmd.Execute()
}
