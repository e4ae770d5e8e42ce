package main

import (
	"fmt"
	"os"
)

const usage = `usage: drawmaid <command> [flags]

commands:
  convert   convert a Mermaid file to draw.io XML or an editable PNG
  detect    print the detected diagram type
  validate  check a Mermaid file and optional SVG
  extract   read the draw.io XML embedded in a PNG
  mcp       serve the drawio.* tools over stdio
  init      write ~/.drawmaid/settings.json
  version   print the version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	var code int
	switch os.Args[1] {
	case "convert":
		code = runConvert(args)
	case "detect":
		code = runDetect(args)
	case "validate":
		code = runValidate(args)
	case "extract":
		code = runExtract(args)
	case "mcp":
		code = runMCP(args)
	case "init":
		code = runInit(args)
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}
