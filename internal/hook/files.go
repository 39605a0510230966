package hook

import (
	"strings"
)

const maxFilesAffected = 10

// knownCommandNames are rejected as path-like tokens when scanning a shell
// command string — they're the verb, not an argument.
var knownCommandNames = map[string]bool{
	"git": true, "npm": true, "yarn": true, "pnpm": true, "go": true,
	"python": true, "python3": true, "node": true, "cargo": true,
	"make": true, "docker": true, "curl": true, "wget": true, "rm": true,
	"mv": true, "cp": true, "ls": true, "cat": true, "echo": true,
	"grep": true, "sed": true, "awk": true, "chmod": true, "chown": true,
	"kill": true, "ssh": true, "scp": true, "sh": true, "bash": true,
}

// DeriveFilesAffected implements spec.md §4.7's files-affected derivation:
// direct file_path/path/filename fields on tool_input, or — for shell-like
// commands — a conservative path-token heuristic over the command string.
// Capped at maxFilesAffected.
func DeriveFilesAffected(toolName string, toolInput map[string]any) []string {
	for _, key := range []string{"file_path", "path", "filename"} {
		if v, ok := toolInput[key].(string); ok && v != "" {
			return []string{v}
		}
	}

	command, _ := toolInput["command"].(string)
	if command == "" {
		return nil
	}

	var out []string
	for _, tok := range strings.Fields(command) {
		if looksLikePath(tok) {
			out = append(out, tok)
			if len(out) >= maxFilesAffected {
				break
			}
		}
	}
	return out
}

// looksLikePath implements the conservative heuristic from spec.md §4.7:
// reject URLs, JSON fragments, MIME types, HTTP headers, flags, /dev/*,
// known command names, and tokens with neither "/" nor a leading dot.
func looksLikePath(tok string) bool {
	tok = strings.Trim(tok, `"'`)
	if tok == "" {
		return false
	}
	if strings.HasPrefix(tok, "-") {
		return false
	}
	if strings.Contains(tok, "://") {
		return false
	}
	if strings.HasPrefix(tok, "/dev/") {
		return false
	}
	if strings.HasPrefix(tok, "{") || strings.HasPrefix(tok, "[") {
		return false
	}
	if strings.Contains(tok, ":") && !strings.HasPrefix(tok, "./") && !strings.HasPrefix(tok, "/") {
		// e.g. "Content-Type:" header fragments, "application/json;v=1:latest"
		return false
	}
	if strings.Contains(tok, "/") && strings.Count(tok, "/") == 1 && isMIMELike(tok) {
		return false
	}
	if knownCommandNames[tok] {
		return false
	}
	hasSlash := strings.Contains(tok, "/")
	hasDotPrefix := strings.HasPrefix(tok, ".")
	if !hasSlash && !hasDotPrefix {
		return false
	}
	return true
}

func lastSegment(tok string) string {
	if idx := strings.LastIndex(tok, "/"); idx >= 0 {
		return tok[idx+1:]
	}
	return tok
}

var mimeTypePrefixes = []string{"text/", "application/", "image/", "audio/", "video/", "font/", "multipart/"}

func isMIMELike(tok string) bool {
	for _, p := range mimeTypePrefixes {
		if strings.HasPrefix(tok, p) {
			return true
		}
	}
	return false
}
