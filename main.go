package main

import "github.com/vibast-solutions/ms-go-isp-billing/cmd"

func main() {
	cmd.Execute()
}
