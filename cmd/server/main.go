package main

import (
	"os"

	"github.com/AlphaNoXD/pai/internal/app"
)

// @title           pai relay API
// @version         1.0
// @description     Stateless relay between the chat client and the generative API.
// @BasePath        /api
func main() {
	os.Exit(app.Run())
}
