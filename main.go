/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "github.com/dmd/devicetracker/cmd"

func main() {
	cmd.Execute()
}
