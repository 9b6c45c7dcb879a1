package main

import "github.com/cisco-ai-defense/ai-defense-go-sdk/cmd/aidefense/cmd"

func main() {
	cmd.Execute()
}
