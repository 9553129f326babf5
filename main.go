/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package main

import "github.com/mautops/formflow-gin/cmd"

func main() {
	cmd.Execute()
}
