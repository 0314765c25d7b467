package main

import (
	"encoding/json"
	"io"
	"os"
)

// printJSON 以缩进 JSON 输出
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeText 写入文件，path 为空或 "-" 时写到 w
func writeText(w io.Writer, path, text string) error {
	if path == "" || path == "-" {
		_, err := io.WriteString(w, text+"\n")
		return err
	}
	return os.WriteFile(path, []byte(text+"\n"), 0o644)
}
