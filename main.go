/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package main

import "botpipe/cmd"

func main() {
	cmd.Execute()
}
