package main

import (
	"os"

	"github.com/foreigner-chat/chatload/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
