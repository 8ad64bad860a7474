package main

import (
	"os"

	"horse.fit/newswire/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
